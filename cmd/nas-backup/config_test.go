package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/nas-backup/internal/services/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// resetFlags restores every flag of c and its children, since cobra keeps
// flag values and Changed state between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--quiet", "--data-dir", dir}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfigurations(t *testing.T, dir, doc string) string {
	t.Helper()
	path := filepath.Join(dir, store.ConfigurationsFile)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

func storedNames(t *testing.T, dir string) []string {
	t.Helper()
	return store.New(testLogger(), dir).Load().Names()
}

func TestConfigDelete_RefusesLastConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigurations(t, dir, `[{"name": "Only", "nasAddress": "nas"}]`)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = execute(t, dir, "config", "delete", "Only")

	assert.ErrorIs(t, err, ErrLastConfiguration)
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestConfigDelete_RemovesRecord(t *testing.T) {
	dir := t.TempDir()
	writeConfigurations(t, dir, `[{"name": "A"}, {"name": "B"}]`)

	out, err := execute(t, dir, "config", "delete", "A")

	require.NoError(t, err)
	assert.Contains(t, out, `Deleted "A"`)
	assert.Equal(t, []string{"B"}, storedNames(t, dir))
}

func TestConfigDelete_UnknownName(t *testing.T) {
	dir := t.TempDir()
	writeConfigurations(t, dir, `[{"name": "A"}, {"name": "B"}]`)

	_, err := execute(t, dir, "config", "delete", "C")

	assert.ErrorContains(t, err, `configuration "C" not found`)
	assert.Equal(t, []string{"A", "B"}, storedNames(t, dir))
}

func TestConfigSet_RenameUpdatesLastUsed(t *testing.T) {
	dir := t.TempDir()
	writeConfigurations(t, dir, `[{"name": "A", "nasAddress": "nas-a", "shareName": "share"}, {"name": "B"}]`)
	st := store.New(testLogger(), dir)
	require.NoError(t, st.SaveLastUsed("A"))

	_, err := execute(t, dir, "config", "set", "Renamed", "--rename-from", "A", "--source", "/home/me")

	require.NoError(t, err)
	set := st.Load()
	assert.Equal(t, []string{"B", "Renamed"}, set.Names())
	assert.Equal(t, "Renamed", set.LastUsed)
	r, ok := set.Find("Renamed")
	require.True(t, ok)
	assert.Equal(t, "nas-a", r.NasAddress)
	assert.Equal(t, "share", r.ShareName)
	assert.Equal(t, "/home/me", r.SourcePath)
}

func TestConfigSet_RenameOntoExistingNameIsRefused(t *testing.T) {
	dir := t.TempDir()
	writeConfigurations(t, dir, `[{"name": "A"}, {"name": "B"}]`)

	_, err := execute(t, dir, "config", "set", "B", "--rename-from", "A")

	assert.ErrorContains(t, err, `configuration "B" already exists`)
	assert.Equal(t, []string{"A", "B"}, storedNames(t, dir))
}

func TestConfigSet_OnlyGivenFlagsChange(t *testing.T) {
	dir := t.TempDir()
	writeConfigurations(t, dir, `[{"name": "A", "nasAddress": "nas", "compressData": true}]`)

	_, err := execute(t, dir, "config", "set", "A", "--archive", "weekly")

	require.NoError(t, err)
	r, ok := store.New(testLogger(), dir).Load().Find("A")
	require.True(t, ok)
	assert.Equal(t, "nas", r.NasAddress)
	assert.Equal(t, "weekly", r.ArchivePath)
	assert.True(t, r.Compress)
}

func TestConfigNew_NamesNextConfiguration(t *testing.T) {
	dir := t.TempDir()
	writeConfigurations(t, dir, `[{"name": "Default"}]`)

	out, err := execute(t, dir, "config", "new", "--nas", "192.168.1.10")

	require.NoError(t, err)
	assert.Contains(t, out, `Created "Configuration 2"`)
	r, ok := store.New(testLogger(), dir).Load().Find("Configuration 2")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.10", r.NasAddress)
}

func TestConfigNew_DuplicateNameIsRefused(t *testing.T) {
	dir := t.TempDir()
	writeConfigurations(t, dir, `[{"name": "Default"}, {"name": "Photos"}]`)

	_, err := execute(t, dir, "config", "new", "Photos")

	assert.ErrorContains(t, err, `configuration "Photos" already exists`)
	assert.Equal(t, []string{"Default", "Photos"}, storedNames(t, dir))
}

func TestConfigUse(t *testing.T) {
	dir := t.TempDir()
	writeConfigurations(t, dir, `[{"name": "A"}, {"name": "B"}]`)

	_, err := execute(t, dir, "config", "use", "B")
	require.NoError(t, err)
	name, ok := store.New(testLogger(), dir).LoadLastUsed()
	assert.True(t, ok)
	assert.Equal(t, "B", name)

	_, err = execute(t, dir, "config", "use", "C")
	assert.ErrorContains(t, err, `configuration "C" not found`)
}
