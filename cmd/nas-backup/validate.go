package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/nas-backup/internal/config"
	"github.com/fgeck/nas-backup/internal/models"
	"github.com/fgeck/nas-backup/internal/services/backup"
	"github.com/fgeck/nas-backup/internal/services/runner"
	"github.com/fgeck/nas-backup/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [name]",
	Short: "Validate the application config and a backup configuration",
	Long: `Validate the application config and the named (or last used) backup
configuration without starting the backup executable.`,
	Args: cobra.MaximumNArgs(1),
	RunE: validateConfig,
}

var checkSSH bool

func init() {
	validateCmd.Flags().BoolVar(&checkSSH, "ssh", false, "also connect to the NAS over SSH and run a test command")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}
	if _, err := os.Stat(cfg.Executable.Path); err != nil {
		notFound := &backup.ExecutableNotFoundError{Path: cfg.Executable.Path, Err: err}
		log.Error().Err(notFound).Msg("configuration validation failed")
		return notFound
	}

	record, err := selectRecord(openStore(cfg).Load(), args)
	if err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}
	req, err := models.NewRunRequest(record)
	if err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			log.Error().Str("config", record.Name).Str("field", vErr.Field).Msg("backup configuration is incomplete")
		}
		return err
	}

	program, argv := backup.Command(cfg.Executable, req)
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Configuration is valid!")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Storage: %s\n", cfg.Storage.Dir)
	fmt.Fprintf(w, "  Configuration: %s\n", req.ConfigName)
	fmt.Fprintf(w, "  Target: %s\n", runner.NasTarget(record))
	fmt.Fprintf(w, "  Source: %s\n", req.SourcePath)
	fmt.Fprintf(w, "  Archive: %s\n", req.ArchivePath)
	fmt.Fprintf(w, "  Compress: %v\n", req.Compress)
	fmt.Fprintf(w, "  Command: %s %s\n", program, strings.Join(argv, " "))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Optional Features:")
	fmt.Fprintf(w, "  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Fprintf(w, "  SSH Shutdown: %v\n", cfg.SSHShutdown != nil)
	fmt.Fprintf(w, "  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.WOL != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WOL Configuration:")
		fmt.Fprintf(w, "  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Fprintf(w, "  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.ProbePort != 0 {
			fmt.Fprintf(w, "  Readiness probe: %s:%d\n", req.NasAddress, cfg.WOL.ProbePort)
		}
	}

	if cfg.SSHShutdown != nil {
		host := cfg.SSHShutdown.Host
		if host == "" {
			host = req.NasAddress
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SSH Shutdown Configuration:")
		fmt.Fprintf(w, "  Host: %s\n", host)
		fmt.Fprintf(w, "  Port: %d\n", cfg.SSHShutdown.Port)
		fmt.Fprintf(w, "  Username: %s\n", cfg.SSHShutdown.Username)
		fmt.Fprintf(w, "  Platform: %s\n", cfg.SSHShutdown.Platform)
		fmt.Fprintf(w, "  Delay: %s\n", cfg.SSHShutdown.Delay)
		if command, err := ssh.ShutdownCommand(*cfg.SSHShutdown); err == nil {
			fmt.Fprintf(w, "  Command: %s\n", command)
		}

		if checkSSH {
			result, _ := ssh.New(log.Logger).Check(context.Background(), *cfg.SSHShutdown, req.NasAddress)
			if result.Error != nil {
				log.Error().Err(result.Error).Str("host", result.Host).Msg("SSH check failed")
				return fmt.Errorf("ssh check: %w", result.Error)
			}
			fmt.Fprintf(w, "  Connection: OK (%s)\n", strings.TrimSpace(result.Output))
		}
	}

	if cfg.Telegram != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Telegram Configuration:")
		fmt.Fprintf(w, "  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Fprintln(w, "  Bot Token: (configured)")
	}

	return nil
}
