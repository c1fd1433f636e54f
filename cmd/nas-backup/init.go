package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fgeck/nas-backup/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write an example application config",
	Long:  `Write an example application config to path (default: config.yaml in the storage directory).`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  initConfig,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite an existing file")
}

func initConfig(cmd *cobra.Command, args []string) error {
	example := config.Example()
	if dataDir != "" {
		example.Storage.Dir = dataDir
	}

	path := defaultConfigFile()
	if len(args) > 0 {
		path = args[0]
	}

	if !forceInit {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := config.WriteExample(f, example); err != nil {
		return err
	}

	log.Info().Str("file", path).Msg("example config written")
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return f.Close()
}
