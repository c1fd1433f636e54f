package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/fgeck/nas-backup/internal/config"
	"github.com/fgeck/nas-backup/internal/models"
	"github.com/fgeck/nas-backup/internal/services/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	dataDir    string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "nas-backup",
	Short: "Run named backup configurations against a NAS share",
	Long: `nas-backup keeps named backup configurations (NAS address, share,
source folder, archive name, compression) and runs an external backup
program for one of them at a time, streaming its output:
  - Wake-on-LAN to wake the NAS (optional)
  - the configured backup executable
  - SSH shutdown of the NAS after success (optional)
  - Telegram notifications (optional)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "application config file (defaults and NASBACKUP_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory holding configurations.json (overrides storage.dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging() {
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// defaultConfigFile is the file written by init when no path is given.
func defaultConfigFile() string {
	dir := dataDir
	if dir == "" {
		dir = config.DefaultStorageDir()
	}
	return filepath.Join(dir, "config.yaml")
}

// loadAppConfig reads --config, else config.yaml in the storage directory when
// present, else defaults, and applies --data-dir.
func loadAppConfig() (*models.AppConfig, error) {
	parser := config.NewParser()

	file := configFile
	if file == "" {
		if _, err := os.Stat(defaultConfigFile()); err == nil {
			file = defaultConfigFile()
		}
	}

	var (
		cfg *models.AppConfig
		err error
	)
	if file != "" {
		log.Debug().Str("file", file).Msg("loading config")
		cfg, err = parser.LoadFile(file)
	} else {
		cfg, err = parser.LoadDefaults()
	}
	if err != nil {
		log.Error().Err(err).Str("file", file).Msg("failed to load config")
		return nil, err
	}

	if dataDir != "" {
		cfg.Storage.Dir = dataDir
	}
	return cfg, nil
}

func openStore(cfg *models.AppConfig) *store.Impl {
	return store.New(log.Logger, cfg.Storage.Dir)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
