// Package backup drives the external backup program, one run at a time.
//
// A run moves through validating, launching and running before it ends in
// succeeded, failed or cancelled. Observer callbacks are invoked on an
// unspecified goroutine; consumers that need a particular context (a UI
// thread, for example) must hop to it themselves.
package backup

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/fgeck/nas-backup/internal/services/process"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Observer receives progress of a run. OnTerminal is called exactly once, last.
type Observer interface {
	OnProgress(p models.Progress)
	OnTerminal(r models.Result)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Progress func(models.Progress)
	Terminal func(models.Result)
}

// OnProgress calls Progress.
func (o ObserverFuncs) OnProgress(p models.Progress) {
	if o.Progress != nil {
		o.Progress(p)
	}
}

// OnTerminal calls Terminal.
func (o ObserverFuncs) OnTerminal(r models.Result) {
	if o.Terminal != nil {
		o.Terminal(r)
	}
}

// Service defines the interface for running backups.
type Service interface {
	Start(ctx context.Context, record models.ConfigRecord, obs Observer) (*Execution, error)
	Run(ctx context.Context, record models.ConfigRecord, obs Observer) (*models.Result, error)
	Cancel() bool
	Busy() bool
}

// Impl implements the Service interface.
type Impl struct {
	runner     process.Runner
	executable models.ExecutableConfig
	logger     zerolog.Logger
	now        func() time.Time
	stat       func(string) (os.FileInfo, error)

	mu      sync.Mutex
	current *Execution
}

// New creates a new backup service that starts real processes.
func New(logger zerolog.Logger, executable models.ExecutableConfig) *Impl {
	runner := process.New(logger, process.WithGracePeriod(executable.CancelGrace))
	return NewWithRunner(logger, executable, runner)
}

// NewWithRunner creates a new backup service with a custom process runner (for testing).
func NewWithRunner(logger zerolog.Logger, executable models.ExecutableConfig, runner process.Runner) *Impl {
	return &Impl{
		runner:     runner,
		executable: executable,
		logger:     logger,
		now:        time.Now,
		stat:       os.Stat,
	}
}

// Start begins a run of record and returns immediately. It fails only with
// AlreadyRunningError; every other problem ends the returned execution in the
// failed state.
func (s *Impl) Start(ctx context.Context, record models.ConfigRecord, obs Observer) (*Execution, error) {
	if obs == nil {
		obs = ObserverFuncs{}
	}

	s.mu.Lock()
	if cur := s.current; cur != nil {
		s.mu.Unlock()
		s.logger.Warn().Str("active", cur.configName).Str("requested", record.Name).Msg("backup already running")
		return nil, &AlreadyRunningError{ActiveConfig: cur.configName, ActiveRunID: cur.id}
	}
	e := &Execution{
		id:         uuid.NewString(),
		configName: record.Name,
		svc:        s,
		observer:   obs,
		startTime:  s.now(),
		state:      models.StateIdle,
		done:       make(chan struct{}),
	}
	s.current = e
	s.mu.Unlock()

	e.setState(models.StateValidating)
	req, err := models.NewRunRequest(record)
	if err != nil {
		e.finish(models.StateFailed, nil, err)
		return e, nil
	}

	s.logger.Info().
		Str("run_id", e.id).
		Str("config", req.ConfigName).
		Str("nas_address", req.NasAddress).
		Str("share", req.ShareName).
		Str("source", req.SourcePath).
		Str("archive", req.ArchivePath).
		Bool("compress", req.Compress).
		Msg("starting backup")

	e.setState(models.StateLaunching)
	if err := s.preflight(); err != nil {
		e.finish(models.StateFailed, nil, err)
		return e, nil
	}
	if ctx.Err() != nil || e.cancelRequested() {
		e.finish(models.StateCancelled, nil, ErrCancelled)
		return e, nil
	}

	program, args := Command(s.executable, req)
	handle, err := s.runner.Start(ctx, program, args)
	if err != nil {
		e.finish(models.StateFailed, nil, err)
		return e, nil
	}

	e.attach(handle)
	stop := context.AfterFunc(ctx, e.Cancel)
	go e.consume(handle, stop)

	return e, nil
}

// Run starts a run and waits for its result.
func (s *Impl) Run(ctx context.Context, record models.ConfigRecord, obs Observer) (*models.Result, error) {
	e, err := s.Start(ctx, record, obs)
	if err != nil {
		return nil, err
	}
	result := e.Wait()
	return &result, nil
}

// Cancel cancels the active run. It reports whether a run was active.
func (s *Impl) Cancel() bool {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur == nil {
		return false
	}
	cur.Cancel()
	return true
}

// Busy reports whether a run is in progress.
func (s *Impl) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *Impl) preflight() error {
	path := s.executable.Path
	if path == "" {
		return &ExecutableNotFoundError{}
	}
	if _, err := s.stat(path); err != nil {
		return &ExecutableNotFoundError{Path: path, Err: err}
	}
	return nil
}

func (s *Impl) release(e *Execution) {
	s.mu.Lock()
	if s.current == e {
		s.current = nil
	}
	s.mu.Unlock()
}

// Execution is a single run. It is not reusable.
type Execution struct {
	id         string
	configName string
	svc        *Impl
	observer   Observer
	startTime  time.Time

	mu        sync.Mutex
	state     models.State
	handle    process.Handle
	cancelled bool

	result models.Result
	done   chan struct{}
}

// ID returns the run identifier.
func (e *Execution) ID() string {
	return e.id
}

// State returns the current state.
func (e *Execution) State() models.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed once the run reached a terminal state.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the run ends and returns its result.
func (e *Execution) Wait() models.Result {
	<-e.done
	return e.result
}

// Cancel requests termination. The run ends cancelled once the process is gone.
func (e *Execution) Cancel() {
	e.mu.Lock()
	if e.state.IsTerminal() {
		e.mu.Unlock()
		return
	}
	e.cancelled = true
	h := e.handle
	e.mu.Unlock()

	if h != nil {
		e.svc.logger.Info().Str("run_id", e.id).Msg("cancelling backup")
		h.Cancel()
	}
}

func (e *Execution) cancelRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

func (e *Execution) setState(state models.State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	e.svc.logger.Debug().Str("run_id", e.id).Str("state", state.String()).Msg("backup state changed")
}

// attach moves the run to running, forwarding a cancel that raced the launch.
func (e *Execution) attach(h process.Handle) {
	e.mu.Lock()
	e.handle = h
	e.state = models.StateRunning
	cancelled := e.cancelled
	e.mu.Unlock()

	e.svc.logger.Debug().Str("run_id", e.id).Str("state", models.StateRunning.String()).Msg("backup state changed")
	if cancelled {
		h.Cancel()
	}
}

func (e *Execution) consume(h process.Handle, stop func() bool) {
	defer stop()

	for ev := range h.Events() {
		if ev.Kind == models.EventCompleted {
			continue
		}
		e.observer.OnProgress(models.Progress{
			Time:   e.svc.now(),
			Source: ev.Stream(),
			Text:   ev.Text,
		})
	}

	code := h.Wait()
	switch {
	case e.cancelRequested():
		e.finish(models.StateCancelled, &code, ErrCancelled)
	case code == 0:
		e.finish(models.StateSucceeded, &code, nil)
	default:
		e.finish(models.StateFailed, &code, &ExitError{Code: code})
	}
}

func (e *Execution) finish(state models.State, code *int, err error) {
	end := e.svc.now()
	result := models.Result{
		RunID:      e.id,
		ConfigName: e.configName,
		State:      state,
		ExitCode:   code,
		Err:        err,
		StartTime:  e.startTime,
		EndTime:    end,
		Duration:   end.Sub(e.startTime),
	}

	e.mu.Lock()
	e.state = state
	e.result = result
	e.mu.Unlock()

	event := e.svc.logger.Info()
	if state != models.StateSucceeded {
		event = e.svc.logger.Error().Err(err)
	}
	if code != nil {
		event = event.Int("exit_code", *code)
	}
	event.Str("run_id", e.id).
		Str("config", e.configName).
		Str("state", state.String()).
		Dur("duration", result.Duration).
		Msg("backup finished")

	// The slot stays taken until the terminal callback returned, so a next
	// run's events always follow this run's terminal event.
	e.observer.OnTerminal(result)
	e.svc.release(e)
	close(e.done)
}
