// Package models contains the data structures used throughout nas-backup.
package models

import "time"

// AppConfig holds the application configuration loaded from the config file.
type AppConfig struct {
	Storage     StorageConfig      `yaml:"storage"`
	Executable  ExecutableConfig   `yaml:"executable"`
	WOL         *WOLConfig         `yaml:"wol,omitempty"`          // nil if not configured
	SSHShutdown *SSHShutdownConfig `yaml:"ssh_shutdown,omitempty"` // nil if not configured
	Telegram    *TelegramConfig    `yaml:"telegram,omitempty"`     // nil if not configured
}

// StorageConfig holds where configuration records are persisted.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// ExecutableConfig describes how the external backup program is invoked.
type ExecutableConfig struct {
	// Path is the backup script or binary. It must exist on disk before a run.
	Path string `yaml:"path"`
	// Interpreter runs Path when set (e.g. powershell.exe, bash).
	Interpreter     string        `yaml:"interpreter,omitempty"`
	InterpreterArgs []string      `yaml:"interpreter_args,omitempty"`
	Args            ArgumentNames `yaml:"args"`
	// CancelGrace is how long a cancelled process may take before it is killed.
	CancelGrace time.Duration `yaml:"cancel_grace"`
}

// ArgumentNames maps record fields to the executable's flag names.
// An empty name passes the value as a positional argument.
type ArgumentNames struct {
	NasAddress  string `yaml:"nas_address"`
	ShareName   string `yaml:"share_name"`
	SourcePath  string `yaml:"source_path"`
	ArchivePath string `yaml:"archive_path"`
	Compress    string `yaml:"compress"`
}
