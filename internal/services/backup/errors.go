package backup

import (
	"errors"
	"fmt"

	"github.com/fgeck/nas-backup/internal/models"
)

var (
	// ErrAlreadyRunning is matched by AlreadyRunningError.
	ErrAlreadyRunning = errors.New("a backup is already running")
	// ErrCancelled is the error carried by a cancelled run.
	ErrCancelled = errors.New("backup cancelled")
)

// ValidationError names the required record field that was empty.
type ValidationError = models.ValidationError

// AlreadyRunningError is returned by Start while another run is active.
type AlreadyRunningError struct {
	ActiveConfig string
	ActiveRunID  string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("a backup is already running (configuration %q, run %s)", e.ActiveConfig, e.ActiveRunID)
}

func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// ExecutableNotFoundError reports that the configured backup program is not on disk.
type ExecutableNotFoundError struct {
	Path string
	Err  error
}

func (e *ExecutableNotFoundError) Error() string {
	if e.Path == "" {
		return "backup executable is not configured"
	}
	return fmt.Sprintf("backup executable not found at %s", e.Path)
}

func (e *ExecutableNotFoundError) Unwrap() error {
	return e.Err
}

// ExitError reports a backup process that exited with a non-zero code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with code: %d", e.Code)
}
