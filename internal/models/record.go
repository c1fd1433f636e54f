package models

import (
	"fmt"
	"strings"
)

// DefaultConfigName is the name of the record synthesized for an empty set.
const DefaultConfigName = "Default"

// ConfigRecord is one named backup configuration.
type ConfigRecord struct {
	Name        string `json:"name"`
	NasAddress  string `json:"nasAddress"`
	ShareName   string `json:"shareName"`
	SourcePath  string `json:"sourcePath"`
	ArchivePath string `json:"archivePath"`
	Compress    bool   `json:"compressData"`
}

// ConfigurationSet is the ordered collection of records plus the last used pointer.
// LastUsed may name a record that no longer exists.
type ConfigurationSet struct {
	Records  []ConfigRecord
	LastUsed string
}

// NewDefaultSet returns a set holding a single empty record named "Default".
func NewDefaultSet() ConfigurationSet {
	return ConfigurationSet{
		Records: []ConfigRecord{{Name: DefaultConfigName}},
	}
}

// Len returns the number of records.
func (s ConfigurationSet) Len() int {
	return len(s.Records)
}

// Find returns the record with the given name.
func (s ConfigurationSet) Find(name string) (ConfigRecord, bool) {
	for _, r := range s.Records {
		if r.Name == name {
			return r, true
		}
	}
	return ConfigRecord{}, false
}

// Names returns record names in display order.
func (s ConfigurationSet) Names() []string {
	names := make([]string, len(s.Records))
	for i, r := range s.Records {
		names[i] = r.Name
	}
	return names
}

// Current returns the last used record, falling back to the first one.
func (s ConfigurationSet) Current() (ConfigRecord, bool) {
	if s.LastUsed != "" {
		if r, ok := s.Find(s.LastUsed); ok {
			return r, true
		}
	}
	if len(s.Records) == 0 {
		return ConfigRecord{}, false
	}
	return s.Records[0], true
}

// Clone returns a copy that shares no backing array with s.
func (s ConfigurationSet) Clone() ConfigurationSet {
	records := make([]ConfigRecord, len(s.Records))
	copy(records, s.Records)
	return ConfigurationSet{Records: records, LastUsed: s.LastUsed}
}

// NextName proposes a free "Configuration N" name for a new record.
func (s ConfigurationSet) NextName() string {
	for n := len(s.Records) + 1; ; n++ {
		name := fmt.Sprintf("Configuration %d", n)
		if _, taken := s.Find(name); !taken {
			return name
		}
	}
}

// RunRequest is the validated snapshot of a record used for one backup run.
type RunRequest struct {
	ConfigName  string
	NasAddress  string
	ShareName   string
	SourcePath  string
	ArchivePath string
	Compress    bool
}

// ValidationError reports a required record field that is empty.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Field)
}

// NewRunRequest validates the record and snapshots its operational fields.
// Whitespace-only values count as empty.
func NewRunRequest(r ConfigRecord) (RunRequest, error) {
	fields := []struct {
		name  string
		value string
	}{
		{"nasAddress", r.NasAddress},
		{"shareName", r.ShareName},
		{"sourcePath", r.SourcePath},
		{"archivePath", r.ArchivePath},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return RunRequest{}, &ValidationError{Field: f.name}
		}
	}

	return RunRequest{
		ConfigName:  r.Name,
		NasAddress:  r.NasAddress,
		ShareName:   r.ShareName,
		SourcePath:  r.SourcePath,
		ArchivePath: r.ArchivePath,
		Compress:    r.Compress,
	}, nil
}
