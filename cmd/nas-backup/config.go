package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/fgeck/nas-backup/internal/services/lock"
	"github.com/fgeck/nas-backup/internal/services/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ErrLastConfiguration is returned when deleting the only stored configuration.
var ErrLastConfiguration = errors.New("cannot delete the last configuration")

var (
	recordNas      string
	recordShare    string
	recordSource   string
	recordArchive  string
	recordCompress bool
	renameFrom     string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored backup configurations",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configurations (* marks the last used one)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig()
		if err != nil {
			return err
		}
		set := openStore(cfg).Load()
		current, _ := set.Current()
		for _, name := range set.Names() {
			marker := " "
			if name == current.Name {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Print a configuration as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig()
		if err != nil {
			return err
		}
		record, err := selectRecord(openStore(cfg).Load(), args)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configNewCmd = &cobra.Command{
	Use:   "new [name]",
	Short: `Add a configuration (named "Configuration N" when no name is given)`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editConfigurations(func(st store.Service, set models.ConfigurationSet) error {
			record := models.ConfigRecord{Name: set.NextName()}
			if len(args) > 0 {
				record.Name = args[0]
			}
			if _, exists := set.Find(record.Name); exists {
				return fmt.Errorf("configuration %q already exists", record.Name)
			}
			applyRecordFlags(cmd, &record)

			if _, err := st.Upsert(set, record); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %q\n", record.Name)
			return nil
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a configuration",
	Long: `Create or update the named configuration. Only the given flags change.
With --rename-from the existing configuration is stored under the new name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		return editConfigurations(func(st store.Service, set models.ConfigurationSet) error {
			source := name
			if renameFrom != "" {
				source = renameFrom
				if _, ok := set.Find(renameFrom); !ok {
					return fmt.Errorf("configuration %q not found", renameFrom)
				}
				if _, taken := set.Find(name); taken && name != renameFrom {
					return fmt.Errorf("configuration %q already exists", name)
				}
			}

			record, _ := set.Find(source)
			record.Name = name
			applyRecordFlags(cmd, &record)

			if _, err := st.Rename(set, source, record); err != nil {
				return err
			}
			if renameFrom != "" && set.LastUsed == renameFrom {
				if err := st.SaveLastUsed(name); err != nil {
					log.Warn().Err(err).Msg("failed to update last used configuration")
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %q\n", name)
			return nil
		})
	},
}

var configDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		return editConfigurations(func(st store.Service, set models.ConfigurationSet) error {
			if _, ok := set.Find(name); !ok {
				return fmt.Errorf("configuration %q not found", name)
			}
			if set.Len() <= 1 {
				return ErrLastConfiguration
			}
			if _, err := st.Delete(set, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", name)
			return nil
		})
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Mark a configuration as last used",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig()
		if err != nil {
			return err
		}
		st := openStore(cfg)
		if _, ok := st.Load().Find(args[0]); !ok {
			return fmt.Errorf("configuration %q not found", args[0])
		}
		return st.SaveLastUsed(args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{configNewCmd, configSetCmd} {
		c.Flags().StringVar(&recordNas, "nas", "", "NAS address")
		c.Flags().StringVar(&recordShare, "share", "", "share name on the NAS")
		c.Flags().StringVar(&recordSource, "source", "", "source folder to back up")
		c.Flags().StringVar(&recordArchive, "archive", "", "archive name or path on the share")
		c.Flags().BoolVar(&recordCompress, "compress", false, "compress the archive")
	}
	configSetCmd.Flags().StringVar(&renameFrom, "rename-from", "", "existing configuration to rename")

	configCmd.AddCommand(configListCmd, configShowCmd, configNewCmd, configSetCmd, configDeleteCmd, configUseCmd)
}

func applyRecordFlags(cmd *cobra.Command, record *models.ConfigRecord) {
	flags := cmd.Flags()
	if flags.Changed("nas") {
		record.NasAddress = recordNas
	}
	if flags.Changed("share") {
		record.ShareName = recordShare
	}
	if flags.Changed("source") {
		record.SourcePath = recordSource
	}
	if flags.Changed("archive") {
		record.ArchivePath = recordArchive
	}
	if flags.Changed("compress") {
		record.Compress = recordCompress
	}
}

// editConfigurations runs edit against the current set while holding the
// storage lock, so edits never race a running backup.
func editConfigurations(edit func(st store.Service, set models.ConfigurationSet) error) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	release, err := lock.New(log.Logger, cfg.Storage.Dir).TryAcquire()
	if err != nil {
		log.Error().Err(err).Msg("configurations are locked")
		return err
	}
	defer release.Release()

	st := openStore(cfg)
	return edit(st, st.Load())
}
