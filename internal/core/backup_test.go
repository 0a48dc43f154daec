package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/illarion/lockpass/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupRoundTrip(t *testing.T) {
	s := newTestSession(t)
	_, err := s.AddEntry(EntryFields{Title: "GitHub", Username: "dev@example.com", Password: "p@ss"})
	require.NoError(t, err)
	id, err := s.AddEntry(EntryFields{Title: "Mail", Password: "m"})
	require.NoError(t, err)

	dir := t.TempDir()
	n, err := s.ExportBackup(dir, "backups/today.json")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	raw, err := os.ReadFile(filepath.Join(dir, "backups", "today.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "p@ss")
	assert.NotContains(t, string(raw), "GitHub")

	entries, err := s.ReadBackup(dir, "backups/today.json")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Deleted locally after the backup: the tombstone is newer, so it stays deleted
	require.NoError(t, s.DeleteEntry(id))
	result, err := s.RestoreBackup(dir, "backups/today.json")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Skipped)
	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackupRefusesOverwriteAndEscape(t *testing.T) {
	s := newTestSession(t)
	dir := t.TempDir()

	_, err := s.ExportBackup(dir, "b.json")
	require.NoError(t, err)

	_, err = s.ExportBackup(dir, "b.json")
	assert.ErrorIs(t, err, ErrBackupExists)

	_, err = s.ExportBackup(dir, "../escape.json")
	assert.ErrorIs(t, err, security.ErrPathEscapes)
	_, err = os.Stat(filepath.Join(filepath.Dir(dir), "escape.json"))
	assert.True(t, os.IsNotExist(err))

	_, err = s.ReadBackup(dir, "/etc/passwd")
	assert.ErrorIs(t, err, security.ErrAbsolutePath)
}

func TestBackupFromAnotherVault(t *testing.T) {
	a := newTestSession(t)
	b := newTestSession(t)
	dir := t.TempDir()

	_, err := a.AddEntry(EntryFields{Title: "only in a"})
	require.NoError(t, err)
	_, err = a.ExportBackup(dir, "a.json")
	require.NoError(t, err)

	_, err = b.RestoreBackup(dir, "a.json")
	assert.ErrorIs(t, err, ErrInvalidBackup)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("nope"), 0600))
	_, err = a.ReadBackup(dir, "junk.json")
	assert.ErrorIs(t, err, ErrInvalidBackup)
}
