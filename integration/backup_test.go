//go:build integration

package integration

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/fgeck/nas-backup/internal/services/backup"
	"github.com/fgeck/nas-backup/internal/services/runner"
	"github.com/fgeck/nas-backup/internal/services/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeBackupScript = `#!/bin/sh
nas=""; share=""; src=""; archive=""; compress="no"
while [ $# -gt 0 ]; do
	case "$1" in
		-NasAddress) nas="$2"; shift 2 ;;
		-ShareName) share="$2"; shift 2 ;;
		-SourcePath) src="$2"; shift 2 ;;
		-ArchivePath) archive="$2"; shift 2 ;;
		-Compress) compress="yes"; shift ;;
		*) echo "unknown argument $1" >&2; exit 2 ;;
	esac
done
printf '%s\n' "target \\\\$nas\\$share"
echo "source $src"
echo "archive $archive compress=$compress"
if [ -n "$FAKE_BACKUP_SLEEP" ]; then
	echo "sleeping"
	exec sleep "$FAKE_BACKUP_SLEEP"
fi
if [ -n "$FAKE_BACKUP_EXIT" ]; then
	echo "failing" >&2
	exit "$FAKE_BACKUP_EXIT"
fi
echo "done"
`

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type capture struct {
	mu    sync.Mutex
	lines []models.Progress
}

func (c *capture) OnProgress(p models.Progress) {
	c.mu.Lock()
	c.lines = append(c.lines, p)
	c.mu.Unlock()
}

func (c *capture) OnTerminal(models.Result) {}

func (c *capture) texts(source models.Stream) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.lines {
		if p.Source == source {
			out = append(out, p.Text)
		}
	}
	return out
}

func setup(t *testing.T) (models.AppConfig, models.ConfigRecord) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "backup.sh")
	require.NoError(t, os.WriteFile(script, []byte(fakeBackupScript), 0o700)) // #nosec G306

	cfg := models.AppConfig{
		Storage: models.StorageConfig{Dir: filepath.Join(dir, "data")},
		Executable: models.ExecutableConfig{
			Path: script,
			Args: models.ArgumentNames{
				NasAddress:  "-NasAddress",
				ShareName:   "-ShareName",
				SourcePath:  "-SourcePath",
				ArchivePath: "-ArchivePath",
				Compress:    "-Compress",
			},
			CancelGrace: 2 * time.Second,
		},
	}
	record := models.ConfigRecord{
		Name:        "photos",
		NasAddress:  "nas.local",
		ShareName:   "backup",
		SourcePath:  "/home/me/Photos",
		ArchivePath: "photos-archive",
		Compress:    true,
	}
	return cfg, record
}

func TestBackup_Succeeds(t *testing.T) {
	cfg, record := setup(t)
	obs := &capture{}

	result, err := backup.New(testLogger(), cfg.Executable).Run(context.Background(), record, obs)

	require.NoError(t, err)
	assert.Equal(t, models.StateSucceeded, result.State)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	assert.Equal(t, []string{
		`target \\nas.local\backup`,
		"source /home/me/Photos",
		"archive photos-archive compress=yes",
		"done",
	}, obs.texts(models.StreamStdout))
}

func TestBackup_NonZeroExit(t *testing.T) {
	cfg, record := setup(t)
	t.Setenv("FAKE_BACKUP_EXIT", "4")
	obs := &capture{}

	result, err := backup.New(testLogger(), cfg.Executable).Run(context.Background(), record, obs)

	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, result.State)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 4, *result.ExitCode)
	var exitErr *backup.ExitError
	assert.ErrorAs(t, result.Err, &exitErr)
	assert.Equal(t, []string{"failing"}, obs.texts(models.StreamStderr))
}

func TestBackup_Cancel(t *testing.T) {
	cfg, record := setup(t)
	t.Setenv("FAKE_BACKUP_SLEEP", "30")

	svc := backup.New(testLogger(), cfg.Executable)
	started := make(chan struct{})
	var once sync.Once
	obs := backup.ObserverFuncs{Progress: func(p models.Progress) {
		if p.Text == "sleeping" {
			once.Do(func() { close(started) })
		}
	}}

	exec, err := svc.Start(context.Background(), record, obs)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("backup never started")
	}
	assert.True(t, svc.Busy())
	assert.True(t, svc.Cancel())

	result := exec.Wait()

	assert.Equal(t, models.StateCancelled, result.State)
	assert.ErrorIs(t, result.Err, backup.ErrCancelled)
	assert.False(t, svc.Busy())
}

func TestRunner_PersistsAndRuns(t *testing.T) {
	cfg, record := setup(t)

	st := store.New(testLogger(), cfg.Storage.Dir)
	set, err := st.Upsert(st.Load(), record)
	require.NoError(t, err)
	require.NoError(t, st.SaveLastUsed(record.Name))

	loaded := st.Load()
	assert.Equal(t, "photos", loaded.LastUsed)
	current, ok := loaded.Current()
	require.True(t, ok)
	assert.Equal(t, set.Records[len(set.Records)-1], current)

	obs := &capture{}
	result, err := runner.New(testLogger(), cfg).Run(context.Background(), cfg, current, obs)

	require.NoError(t, err)
	assert.Equal(t, models.StateSucceeded, result.State)
	assert.Contains(t, obs.texts(models.StreamStdout), "done")
}
