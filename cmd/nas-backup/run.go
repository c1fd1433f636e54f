package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fgeck/nas-backup/internal/config"
	"github.com/fgeck/nas-backup/internal/models"
	"github.com/fgeck/nas-backup/internal/services/backup"
	"github.com/fgeck/nas-backup/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	compress   bool
	noCompress bool
)

var runCmd = &cobra.Command{
	Use:   "run [name]",
	Short: "Run a backup configuration",
	Long: `Run the named configuration, or the last used one when no name is given.

The workflow is:
1. Wake-on-LAN of the NAS (if configured)
2. The backup executable, with its output streamed as it arrives
3. SSH shutdown of the NAS after success (if configured)
4. Telegram notification (if configured)

Ctrl+C cancels the running backup.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

func init() {
	runCmd.Flags().BoolVar(&compress, "compress", false, "compress the archive for this run")
	runCmd.Flags().BoolVar(&noCompress, "no-compress", false, "do not compress the archive for this run")
	runCmd.MarkFlagsMutuallyExclusive("compress", "no-compress")
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	st := openStore(cfg)
	set := st.Load()

	record, err := selectRecord(set, args)
	if err != nil {
		log.Error().Err(err).Msg("no configuration to run")
		return err
	}
	switch {
	case cmd.Flags().Changed("compress"):
		record.Compress = compress
	case cmd.Flags().Changed("no-compress"):
		record.Compress = !noCompress
	}

	if err := st.SaveLastUsed(record.Name); err != nil {
		log.Warn().Err(err).Msg("failed to remember last used configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, cancelling backup")
			cancel()
		case <-ctx.Done():
		}
	}()

	out := cmd.OutOrStdout()
	runnerSvc := runner.New(log.Logger, *cfg)
	result, err := runnerSvc.Run(ctx, *cfg, record, newProgressPrinter(out))

	if result != nil && result.ExitCode != nil && *result.ExitCode != 0 {
		fmt.Fprintf(out, "Process exited with code: %d\n", *result.ExitCode)
	}
	switch {
	case errors.Is(err, backup.ErrCancelled):
		fmt.Fprintln(out, "Backup cancelled.")
		return err
	case err != nil:
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	fmt.Fprintln(out, "Backup completed successfully.")
	return nil
}

// selectRecord picks the named record, else the last used, else the first.
func selectRecord(set models.ConfigurationSet, args []string) (models.ConfigRecord, error) {
	if len(args) > 0 {
		r, ok := set.Find(args[0])
		if !ok {
			return models.ConfigRecord{}, fmt.Errorf("configuration %q not found", args[0])
		}
		return r, nil
	}
	r, ok := set.Current()
	if !ok {
		return models.ConfigRecord{}, errors.New("no configurations stored")
	}
	return r, nil
}

// progressPrinter renders output lines as "[15:04:05] text".
type progressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w}
}

func (p *progressPrinter) OnProgress(pr models.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatProgress(pr))
}

func (p *progressPrinter) OnTerminal(models.Result) {}

func formatProgress(pr models.Progress) string {
	prefix := ""
	if pr.Source == models.StreamStderr {
		prefix = "ERROR: "
	}
	return fmt.Sprintf("[%s] %s%s", pr.Time.Format("15:04:05"), prefix, pr.Text)
}
