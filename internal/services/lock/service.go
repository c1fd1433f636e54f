// Package lock guards a storage directory against concurrent runs and edits
// from other nas-backup processes on the same machine.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
	"github.com/rs/zerolog"
)

// DefaultDelay is how often a blocked Acquire retries.
const DefaultDelay = 250 * time.Millisecond

// ErrBusy is returned by TryAcquire when another process holds the lock.
var ErrBusy = errors.New("another nas-backup process is using this storage directory")

// Releaser releases a held lock.
type Releaser interface {
	Release()
}

// Service defines the interface for the storage lock.
type Service interface {
	Acquire(ctx context.Context) (Releaser, error)
	TryAcquire() (Releaser, error)
}

// Impl implements the Service interface with a machine-wide named mutex.
type Impl struct {
	logger  zerolog.Logger
	name    string
	clock   mutex.Clock
	delay   time.Duration
	acquire func(mutex.Spec) (mutex.Releaser, error)
}

// New creates a lock for the given storage directory.
func New(logger zerolog.Logger, dir string) *Impl {
	return &Impl{
		logger:  logger,
		name:    Name(dir),
		clock:   clock.WallClock,
		delay:   DefaultDelay,
		acquire: mutex.Acquire,
	}
}

// Name derives the mutex name for dir. Equivalent paths share a name.
func Name(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	sum := sha256.Sum256([]byte(filepath.Clean(dir)))
	return "nasbackup-" + hex.EncodeToString(sum[:])[:12]
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Impl) Acquire(ctx context.Context) (Releaser, error) {
	l.logger.Debug().Str("lock", l.name).Msg("acquiring storage lock")

	r, err := l.acquire(mutex.Spec{
		Name:   l.name,
		Clock:  l.clock,
		Delay:  l.delay,
		Cancel: ctx.Done(),
	})
	if err != nil {
		if errors.Is(err, mutex.ErrCancelled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to acquire storage lock: %w", err)
	}
	return r, nil
}

// TryAcquire takes the lock only if it is free right now.
func (l *Impl) TryAcquire() (Releaser, error) {
	r, err := l.acquire(mutex.Spec{
		Name:    l.name,
		Clock:   l.clock,
		Delay:   l.delay,
		Timeout: time.Millisecond,
	})
	if err != nil {
		if errors.Is(err, mutex.ErrTimeout) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("failed to acquire storage lock: %w", err)
	}
	return r, nil
}
