// Package config provides application configuration parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NASBACKUP_STORAGE_DIR.
const EnvPrefix = "NASBACKUP"

// AppName names the default storage directory.
const AppName = "nas-backup"

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with defaults and
// environment overrides applied.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("storage.dir", DefaultStorageDir())
	v.SetDefault("executable.args.nas_address", "-NasAddress")
	v.SetDefault("executable.args.share_name", "-ShareName")
	v.SetDefault("executable.args.source_path", "-SourcePath")
	v.SetDefault("executable.args.archive_path", "-ArchivePath")
	v.SetDefault("executable.args.compress", "-Compress")
	v.SetDefault("executable.cancel_grace", 10*time.Second)

	return &Parser{v: v}
}

// DefaultStorageDir is the per-user directory holding the configuration records.
func DefaultStorageDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, AppName)
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadDefaults builds the configuration from defaults and environment only.
func (p *Parser) LoadDefaults() (*models.AppConfig, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{}

	cfg.Storage = models.StorageConfig{
		Dir: expandPath(p.v.GetString("storage.dir")),
	}

	cfg.Executable = models.ExecutableConfig{
		Path:            expandPath(p.v.GetString("executable.path")),
		Interpreter:     os.ExpandEnv(p.v.GetString("executable.interpreter")),
		InterpreterArgs: p.v.GetStringSlice("executable.interpreter_args"),
		Args: models.ArgumentNames{
			NasAddress:  p.v.GetString("executable.args.nas_address"),
			ShareName:   p.v.GetString("executable.args.share_name"),
			SourcePath:  p.v.GetString("executable.args.source_path"),
			ArchivePath: p.v.GetString("executable.args.archive_path"),
			Compress:    p.v.GetString("executable.args.compress"),
		},
		CancelGrace: p.v.GetDuration("executable.cancel_grace"),
	}
	if len(cfg.Executable.InterpreterArgs) == 0 {
		cfg.Executable.InterpreterArgs = nil
	}
	if cfg.Executable.CancelGrace < 0 {
		return nil, errors.New("executable.cancel_grace must not be negative")
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:   p.v.GetString("wol.mac_address"),
			BroadcastIP:  p.v.GetString("wol.broadcast_ip"),
			Port:         p.v.GetInt("wol.port"),
			ProbePort:    p.v.GetInt("wol.probe_port"),
			Timeout:      p.v.GetDuration("wol.timeout"),
			PollInterval: p.v.GetDuration("wol.poll_interval"),
			SettleTime:   p.v.GetDuration("wol.settle_time"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, errors.New("wol.mac_address is required when wol is configured")
		}

		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Port == 0 {
			cfg.WOL.Port = 9
		}
		if !p.v.IsSet("wol.probe_port") {
			cfg.WOL.ProbePort = 445
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if !p.v.IsSet("wol.settle_time") {
			cfg.WOL.SettleTime = 10 * time.Second
		}
	}

	// Parse optional SSH shutdown config.
	if p.v.IsSet("ssh_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:           p.v.GetString("ssh_shutdown.host"),
			Port:           p.v.GetInt("ssh_shutdown.port"),
			Username:       p.v.GetString("ssh_shutdown.username"),
			KeyPath:        expandPath(p.v.GetString("ssh_shutdown.key_path")),
			KnownHostsPath: expandPath(p.v.GetString("ssh_shutdown.known_hosts")),
			Delay:          p.v.GetDuration("ssh_shutdown.delay"),
			Platform:       p.v.GetString("ssh_shutdown.platform"),
			Command:        p.v.GetString("ssh_shutdown.command"),
		}

		if cfg.SSHShutdown.Port == 0 {
			cfg.SSHShutdown.Port = 22
		}
		if cfg.SSHShutdown.Username == "" {
			cfg.SSHShutdown.Username = "root"
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, errors.New("ssh_shutdown.key_path is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.Platform == "" {
			cfg.SSHShutdown.Platform = models.PlatformLinux
		}
		validPlatforms := map[string]bool{
			models.PlatformLinux:    true,
			models.PlatformSynology: true,
			models.PlatformTrueNAS:  true,
			models.PlatformWindows:  true,
		}
		if !validPlatforms[cfg.SSHShutdown.Platform] && cfg.SSHShutdown.Command == "" {
			return nil, errors.New("ssh_shutdown.platform must be one of: linux, synology, truenas, windows (or set ssh_shutdown.command)")
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken:     os.ExpandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:       os.ExpandEnv(p.v.GetString("telegram.chat_id")),
			QuietSuccess: p.v.GetBool("telegram.quiet_success"),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, errors.New("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, errors.New("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// expandPath expands environment variables and a leading ~.
func expandPath(s string) string {
	s = os.ExpandEnv(s)
	if s == "~" || strings.HasPrefix(s, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			s = filepath.Join(home, s[1:])
		}
	}
	return s
}

// Validate checks what a backup run needs from the loaded configuration.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	if cfg.Storage.Dir == "" {
		return errors.New("storage.dir is required")
	}

	if cfg.Executable.Path == "" {
		return errors.New("executable.path is required")
	}

	if cfg.Executable.Interpreter == "" && len(cfg.Executable.InterpreterArgs) > 0 {
		return errors.New("executable.interpreter_args requires executable.interpreter")
	}

	// A switch has no value to pass positionally.
	if cfg.Executable.Args.Compress == "" {
		return errors.New("executable.args.compress must name the compress switch")
	}

	return nil
}
