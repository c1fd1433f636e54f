// Package runner orchestrates the NAS backup workflow around a single run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/fgeck/nas-backup/internal/services/backup"
	"github.com/fgeck/nas-backup/internal/services/lock"
	"github.com/fgeck/nas-backup/internal/services/ssh"
	"github.com/fgeck/nas-backup/internal/services/telegram"
	"github.com/fgeck/nas-backup/internal/services/wol"
	"github.com/rs/zerolog"
)

// Workflow steps reported as the failed step in notifications.
const (
	StepLock     = "lock"
	StepWOL      = "wol"
	StepBackup   = "backup"
	StepShutdown = "ssh_shutdown"
)

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.AppConfig, record models.ConfigRecord, obs backup.Observer) (*models.Result, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	backupSvc   backup.Service
	lockSvc     lock.Service
	wolSvc      wol.Service
	sshSvc      ssh.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
}

// New creates a new runner service for the given application config.
func New(logger zerolog.Logger, cfg models.AppConfig) *Impl {
	return &Impl{
		backupSvc:   backup.New(logger, cfg.Executable),
		lockSvc:     lock.New(logger, cfg.Storage.Dir),
		wolSvc:      wol.New(logger),
		sshSvc:      ssh.New(logger),
		telegramSvc: telegram.New(logger),
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	backupSvc backup.Service,
	lockSvc lock.Service,
	wolSvc wol.Service,
	sshSvc ssh.Service,
	telegramSvc telegram.Service,
) *Impl {
	return &Impl{
		backupSvc:   backupSvc,
		lockSvc:     lockSvc,
		wolSvc:      wolSvc,
		sshSvc:      sshSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
	}
}

// Run executes the complete workflow for record. It returns the backup result
// whenever the backup step was reached, and an error for every outcome other
// than success.
func (s *Impl) Run(ctx context.Context, cfg models.AppConfig, record models.ConfigRecord, obs backup.Observer) (*models.Result, error) {
	startTime := time.Now()
	var (
		failedStep string
		runErr     error
		result     *models.Result
	)
	tail := &lastLine{next: obs}

	s.logger.Info().
		Str("config", record.Name).
		Str("target", NasTarget(record)).
		Msg("starting backup workflow")

	defer func() {
		if cfg.Telegram != nil {
			// A cancelled run still reports its outcome.
			s.sendNotification(context.WithoutCancel(ctx), *cfg.Telegram, record, startTime, result, tail.get(), failedStep, runErr)
		}
	}()

	// Step 1: storage lock
	failedStep = StepLock
	release, err := s.lockSvc.TryAcquire()
	if err != nil {
		runErr = err
		return nil, err
	}
	defer release.Release()

	// Step 2: Wake-on-LAN (if configured). An invalid record is left to the
	// backup step so it fails without touching the network.
	if cfg.WOL != nil {
		if _, verr := models.NewRunRequest(record); verr == nil {
			failedStep = StepWOL
			if err := s.runWOL(ctx, *cfg.WOL, record.NasAddress); err != nil {
				runErr = err
				return nil, err
			}
		}
	}

	// Step 3: backup
	failedStep = StepBackup
	result, err = s.backupSvc.Run(ctx, record, tail)
	if err != nil {
		runErr = err
		return nil, err
	}
	switch result.State {
	case models.StateSucceeded:
	case models.StateCancelled:
		runErr = result.Err
		return result, result.Err
	default:
		runErr = fmt.Errorf("backup failed: %w", result.Err)
		return result, runErr
	}

	// Step 4: SSH shutdown (if configured)
	if cfg.SSHShutdown != nil {
		failedStep = StepShutdown
		if err := s.runSSHShutdown(ctx, *cfg.SSHShutdown, record.NasAddress); err != nil {
			runErr = err
			return result, err
		}
	}

	failedStep = ""
	s.logger.Info().
		Str("run_id", result.RunID).
		Dur("duration", time.Since(startTime)).
		Msg("backup workflow completed successfully")

	return result, nil
}

// NasTarget renders the destination share as \\nas\share.
func NasTarget(record models.ConfigRecord) string {
	if record.NasAddress == "" && record.ShareName == "" {
		return ""
	}
	return `\\` + record.NasAddress + `\` + record.ShareName
}

func (s *Impl) runWOL(ctx context.Context, cfg models.WOLConfig, nasAddress string) error {
	result, err := s.wolSvc.Wake(ctx, cfg, nasAddress)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.NasReady {
		return errors.New("NAS did not become ready after WOL")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")

	return nil
}

func (s *Impl) runSSHShutdown(ctx context.Context, cfg models.SSHShutdownConfig, nasAddress string) error {
	result, err := s.sshSvc.Shutdown(ctx, cfg, nasAddress)
	if err != nil {
		return fmt.Errorf("SSH shutdown failed: %w", err)
	}
	if result.Error != nil && !result.CommandRun {
		return fmt.Errorf("SSH shutdown failed: %w", result.Error)
	}

	s.logger.Info().
		Str("host", result.Host).
		Bool("command_run", result.CommandRun).
		Msg("SSH shutdown command sent")

	return nil
}

func (s *Impl) sendNotification(
	ctx context.Context,
	cfg models.TelegramConfig,
	record models.ConfigRecord,
	startTime time.Time,
	result *models.Result,
	last string,
	failedStep string,
	runErr error,
) {
	msg := models.TelegramMessage{
		Success:    runErr == nil,
		ConfigName: record.Name,
		NasTarget:  NasTarget(record),
		SourcePath: record.SourcePath,
		StartTime:  startTime,
		Duration:   time.Since(startTime),
		LastLine:   last,
	}
	if result != nil {
		msg.RunID = result.RunID
		msg.ExitCode = result.ExitCode
		msg.Cancelled = result.State == models.StateCancelled
	}
	if runErr != nil && !msg.Cancelled {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	}

	res, err := s.telegramSvc.SendNotification(ctx, cfg, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if res.Error != nil {
		s.logger.Error().Err(res.Error).Msg("failed to send Telegram notification")
		return
	}

	s.logger.Info().Msg("Telegram notification sent")
}

// lastLine forwards progress and remembers the most recent line.
type lastLine struct {
	next backup.Observer

	mu   sync.Mutex
	text string
}

func (l *lastLine) OnProgress(p models.Progress) {
	l.mu.Lock()
	l.text = p.Text
	l.mu.Unlock()
	if l.next != nil {
		l.next.OnProgress(p)
	}
}

func (l *lastLine) OnTerminal(r models.Result) {
	if l.next != nil {
		l.next.OnTerminal(r)
	}
}

func (l *lastLine) get() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.text
}
