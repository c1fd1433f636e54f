package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/nas-backup/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatProgress(t *testing.T) {
	at := time.Date(2026, 10, 17, 14, 5, 9, 0, time.Local)

	assert.Equal(t, "[14:05:09] copying files", formatProgress(models.Progress{Time: at, Source: models.StreamStdout, Text: "copying files"}))
	assert.Equal(t, "[14:05:09] ERROR: share not found", formatProgress(models.Progress{Time: at, Source: models.StreamStderr, Text: "share not found"}))
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)

	p.OnProgress(models.Progress{Time: at, Text: "A"})
	p.OnProgress(models.Progress{Time: at, Text: "B"})
	p.OnTerminal(models.Result{})

	assert.Equal(t, "[09:00:00] A\n[09:00:00] B\n", buf.String())
}

func TestSelectRecord(t *testing.T) {
	set := models.ConfigurationSet{
		Records:  []models.ConfigRecord{{Name: "Photos"}, {Name: "Documents"}},
		LastUsed: "Documents",
	}

	r, err := selectRecord(set, nil)
	require.NoError(t, err)
	assert.Equal(t, "Documents", r.Name)

	r, err = selectRecord(set, []string{"Photos"})
	require.NoError(t, err)
	assert.Equal(t, "Photos", r.Name)

	_, err = selectRecord(set, []string{"Music"})
	assert.ErrorContains(t, err, `"Music" not found`)

	_, err = selectRecord(models.ConfigurationSet{}, nil)
	assert.Error(t, err)
}

func TestLoadAppConfig_ReadsConfigInDataDir(t *testing.T) {
	dir := t.TempDir()
	oldData, oldFile := dataDir, configFile
	t.Cleanup(func() { dataDir, configFile = oldData, oldFile })
	dataDir, configFile = dir, ""

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("executable:\n  path: /opt/backup.sh\n"), 0o600))

	cfg, err := loadAppConfig()

	require.NoError(t, err)
	assert.Equal(t, "/opt/backup.sh", cfg.Executable.Path)
	assert.Equal(t, dir, cfg.Storage.Dir)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), defaultConfigFile())
}
