// Package store persists backup configuration records and the last used pointer.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	// ConfigurationsFile holds the record list.
	ConfigurationsFile = "configurations.json"
	// LastUsedFile holds the name of the last used record.
	LastUsedFile = "last_used"

	dirPerm  = 0o750
	filePerm = 0o600
)

// ErrEmptyName is returned when a record without a name is saved.
var ErrEmptyName = errors.New("configuration name cannot be empty")

// IOError reports a storage read or write failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Service defines the interface for configuration storage.
type Service interface {
	Load() models.ConfigurationSet
	Save(set models.ConfigurationSet) error
	Upsert(set models.ConfigurationSet, record models.ConfigRecord) (models.ConfigurationSet, error)
	Rename(set models.ConfigurationSet, oldName string, record models.ConfigRecord) (models.ConfigurationSet, error)
	Delete(set models.ConfigurationSet, name string) (models.ConfigurationSet, error)
	SaveLastUsed(name string) error
	LoadLastUsed() (string, bool)
}

// Impl implements the Service interface on top of an afero filesystem.
type Impl struct {
	fs     afero.Fs
	dir    string
	logger zerolog.Logger
}

// New creates a store rooted at dir on the OS filesystem.
func New(logger zerolog.Logger, dir string) *Impl {
	return NewWithFs(logger, afero.NewOsFs(), dir)
}

// NewWithFs creates a store on a custom filesystem (for testing).
func NewWithFs(logger zerolog.Logger, fs afero.Fs, dir string) *Impl {
	return &Impl{
		fs:     fs,
		dir:    dir,
		logger: logger,
	}
}

// Dir returns the storage directory.
func (s *Impl) Dir() string {
	return s.dir
}

func (s *Impl) configurationsPath() string {
	return filepath.Join(s.dir, ConfigurationsFile)
}

func (s *Impl) lastUsedPath() string {
	return filepath.Join(s.dir, LastUsedFile)
}

// Load reads the persisted set. It never fails: missing or malformed storage
// yields the default set and the problem is logged.
func (s *Impl) Load() models.ConfigurationSet {
	set := s.loadRecords()
	if name, ok := s.LoadLastUsed(); ok {
		set.LastUsed = name
	}
	return set
}

func (s *Impl) loadRecords() models.ConfigurationSet {
	path := s.configurationsPath()

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().Str("path", path).Msg("no configurations stored yet, using default")
		} else {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to read configurations, using default")
		}
		return models.NewDefaultSet()
	}

	var records []models.ConfigRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to parse configurations, using default")
		return models.NewDefaultSet()
	}

	set := models.ConfigurationSet{Records: make([]models.ConfigRecord, 0, len(records))}
	for _, r := range records {
		if strings.TrimSpace(r.Name) == "" {
			s.logger.Warn().Str("path", path).Msg("skipping configuration without a name")
			continue
		}
		if _, dup := set.Find(r.Name); dup {
			s.logger.Warn().Str("name", r.Name).Msg("skipping duplicate configuration")
			continue
		}
		set.Records = append(set.Records, r)
	}

	if set.Len() == 0 {
		s.logger.Debug().Str("path", path).Msg("configuration list is empty, using default")
		return models.NewDefaultSet()
	}

	s.logger.Debug().Int("count", set.Len()).Msg("configurations loaded")
	return set
}

// Save writes the record list. Readers never see a partially written file.
func (s *Impl) Save(set models.ConfigurationSet) error {
	records := set.Records
	if records == nil {
		records = []models.ConfigRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: s.configurationsPath(), Err: err}
	}

	if err := s.writeAtomic(s.configurationsPath(), data); err != nil {
		return err
	}

	s.logger.Debug().Int("count", len(records)).Msg("configurations saved")
	return nil
}

// Upsert replaces any record with the same name and appends record at the end.
// The input set is left untouched; on failure it is returned unchanged.
func (s *Impl) Upsert(set models.ConfigurationSet, record models.ConfigRecord) (models.ConfigurationSet, error) {
	return s.Rename(set, record.Name, record)
}

// Rename drops oldName when it differs from record.Name, then upserts record.
func (s *Impl) Rename(set models.ConfigurationSet, oldName string, record models.ConfigRecord) (models.ConfigurationSet, error) {
	if strings.TrimSpace(record.Name) == "" {
		return set, ErrEmptyName
	}

	next := models.ConfigurationSet{
		Records:  make([]models.ConfigRecord, 0, set.Len()+1),
		LastUsed: set.LastUsed,
	}
	for _, r := range set.Records {
		if r.Name == record.Name || r.Name == oldName {
			continue
		}
		next.Records = append(next.Records, r)
	}
	next.Records = append(next.Records, record)

	if err := s.Save(next); err != nil {
		return set, err
	}

	if oldName != record.Name {
		s.logger.Info().Str("from", oldName).Str("to", record.Name).Msg("configuration renamed")
	} else {
		s.logger.Info().Str("name", record.Name).Msg("configuration saved")
	}
	return next, nil
}

// Delete removes the named record. An absent name is a no-op and nothing is written.
func (s *Impl) Delete(set models.ConfigurationSet, name string) (models.ConfigurationSet, error) {
	if _, ok := set.Find(name); !ok {
		return set, nil
	}

	next := models.ConfigurationSet{
		Records:  make([]models.ConfigRecord, 0, set.Len()),
		LastUsed: set.LastUsed,
	}
	for _, r := range set.Records {
		if r.Name != name {
			next.Records = append(next.Records, r)
		}
	}

	if err := s.Save(next); err != nil {
		return set, err
	}

	s.logger.Info().Str("name", name).Msg("configuration deleted")
	return next, nil
}

// SaveLastUsed persists the last used pointer without rewriting the record list.
func (s *Impl) SaveLastUsed(name string) error {
	return s.writeAtomic(s.lastUsedPath(), []byte(name+"\n"))
}

// LoadLastUsed returns the last used name, if a readable one is stored.
func (s *Impl) LoadLastUsed() (string, bool) {
	path := s.lastUsedPath()

	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", path).Msg("failed to read last used configuration")
		}
		return "", false
	}

	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", false
	}
	return name, true
}

// writeAtomic writes data next to path and renames it into place.
func (s *Impl) writeAtomic(path string, data []byte) error {
	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return &IOError{Op: "create dir", Path: s.dir, Err: err}
	}

	tmp, err := afero.TempFile(s.fs, s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return &IOError{Op: "create temp file", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer func() { _ = s.fs.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: tmpName, Err: err}
	}
	if err := s.fs.Chmod(tmpName, filePerm); err != nil {
		return &IOError{Op: "chmod", Path: tmpName, Err: err}
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}

	return nil
}
