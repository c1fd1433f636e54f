// Package process launches external programs and streams their output line by line.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TerminatedExitCode is reported when the OS gives no exit code (e.g. killed by a signal).
const TerminatedExitCode = -1

// DefaultGracePeriod is how long a cancelled process may run before it is killed.
const DefaultGracePeriod = 10 * time.Second

// LaunchError reports that the executable could not be found or spawned.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// Runner starts external processes.
type Runner interface {
	Start(ctx context.Context, path string, args []string) (Handle, error)
}

// Handle is a live process and its output.
//
// Events yields stdout and stderr lines in the order they were written within
// each stream, followed by exactly one Completed event, then closes. It must
// be drained. Wait blocks until the process has exited and may be called from
// any number of goroutines. Cancel asks the process to terminate.
type Handle interface {
	Events() <-chan models.RunEvent
	Wait() int
	Cancel()
}

// Impl implements Runner with os/exec.
type Impl struct {
	logger      zerolog.Logger
	gracePeriod time.Duration
	env         []string
	dir         string
}

// Option configures an Impl.
type Option func(*Impl)

// WithGracePeriod sets how long a cancelled process gets before it is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Impl) {
		if d > 0 {
			r.gracePeriod = d
		}
	}
}

// WithEnv adds environment variables (KEY=VALUE) to the child environment.
func WithEnv(env []string) Option {
	return func(r *Impl) {
		r.env = env
	}
}

// WithDir sets the working directory of started processes.
func WithDir(dir string) Option {
	return func(r *Impl) {
		r.dir = dir
	}
}

// New creates a new process runner.
func New(logger zerolog.Logger, opts ...Option) *Impl {
	r := &Impl{
		logger:      logger,
		gracePeriod: DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches path with args. Cancelling ctx has the same effect as Handle.Cancel.
func (r *Impl) Start(ctx context.Context, path string, args []string) (Handle, error) {
	runCtx, cancel := context.WithCancel(ctx)

	// #nosec G204 -- the executable is operator configuration
	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.Dir = r.dir
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	cmd.Cancel = func() error {
		if err := cmd.Process.Signal(os.Interrupt); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = r.gracePeriod

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	r.logger.Debug().Str("path", path).Strs("args", args).Msg("starting process")

	if err := cmd.Start(); err != nil {
		cancel()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, &LaunchError{Path: path, Err: err}
	}

	h := &execHandle{
		cmd:    cmd,
		cancel: cancel,
		logger: r.logger.With().Int("pid", cmd.Process.Pid).Logger(),
		notify: make(chan struct{}, 1),
		events: make(chan models.RunEvent),
		done:   make(chan struct{}),
	}

	var readers errgroup.Group
	readers.Go(func() error { return h.read(stdoutR, models.OutputLine) })
	readers.Go(func() error { return h.read(stderrR, models.ErrorLine) })

	go h.pump()
	go func() {
		waitErr := cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		if err := readers.Wait(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to read process output")
		}
		h.finish(exitCode(cmd, waitErr))
	}()

	return h, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	logger zerolog.Logger

	mu      sync.Mutex
	pending []models.RunEvent
	closed  bool
	notify  chan struct{}

	events chan models.RunEvent
	done   chan struct{}
	code   int
}

func (h *execHandle) Events() <-chan models.RunEvent {
	return h.events
}

func (h *execHandle) Wait() int {
	<-h.done
	return h.code
}

func (h *execHandle) Cancel() {
	h.logger.Debug().Msg("cancelling process")
	h.cancel()
}

// read splits one stream into line events. Empty lines are dropped.
func (h *execHandle) read(r io.Reader, event func(string) models.RunEvent) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if text := strings.TrimRight(line, "\r\n"); text != "" {
			h.push(event(text))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// push queues an event without ever blocking on the consumer.
func (h *execHandle) push(ev models.RunEvent) {
	h.mu.Lock()
	h.pending = append(h.pending, ev)
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *execHandle) finish(code int) {
	h.logger.Debug().Int("exit_code", code).Msg("process exited")

	h.mu.Lock()
	h.code = code
	h.pending = append(h.pending, models.Completed(code))
	h.closed = true
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
	h.cancel()
	close(h.done)
}

// pump hands queued events to the consumer channel.
func (h *execHandle) pump() {
	defer close(h.events)
	for {
		h.mu.Lock()
		batch := h.pending
		h.pending = nil
		closed := h.closed
		h.mu.Unlock()

		for _, ev := range batch {
			h.events <- ev
		}
		// Completed is queued together with closed, so it was the last event sent.
		if closed {
			return
		}
		<-h.notify
	}
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		if code := cmd.ProcessState.ExitCode(); code >= 0 {
			return code
		}
		return TerminatedExitCode
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}
	if err == nil {
		return 0
	}
	return TerminatedExitCode
}
