package models

import "time"

// NAS platforms with a known power-off command.
const (
	PlatformLinux    = "linux"
	PlatformSynology = "synology"
	PlatformTrueNAS  = "truenas"
	PlatformWindows  = "windows"
)

// SSHShutdownConfig holds configuration for powering off the NAS over SSH
// after a successful backup.
type SSHShutdownConfig struct {
	// Host defaults to the record's NAS address when empty.
	Host           string        `yaml:"host,omitempty"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	PrivateKey     []byte        `yaml:"-"` // loaded from KeyPath
	KeyPath        string        `yaml:"key_path"`
	KnownHostsPath string        `yaml:"known_hosts,omitempty"` // empty skips host key checks
	Delay          time.Duration `yaml:"delay"`
	Platform       string        `yaml:"platform"`          // linux (default), synology, truenas or windows
	Command        string        `yaml:"command,omitempty"` // overrides the platform command
}

// SSHResult holds the result of an SSH operation.
type SSHResult struct {
	Host       string
	CommandRun bool
	Output     string
	Error      error
}
