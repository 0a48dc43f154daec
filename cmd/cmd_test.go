package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/illarion/lockpass/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func setupCLI(t *testing.T) string {
	t.Helper()
	keyring.MockInit()

	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(configFile, []byte("device_id: test-device\nkdf_iterations: 1000\n"), 0600))

	t.Setenv("LOCKPASS_CONFIG", configFile)
	t.Setenv(core.PasswordEnv, "correct horse")
	t.Setenv("NO_COLOR", "1")
	return filepath.Join(dir, "vault.lockpass")
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

func openVault(t *testing.T, path string) *core.Session {
	t.Helper()
	sess, err := core.New(path).Unlock([]byte("correct horse"))
	require.NoError(t, err)
	t.Cleanup(sess.Lock)
	return sess
}

func TestCLIEntryLifecycle(t *testing.T) {
	path := setupCLI(t)

	require.NoError(t, run(t, "init"))
	assert.ErrorIs(t, run(t, "init"), core.ErrAlreadyExists)

	require.NoError(t, run(t, "add", "--title", "GitHub", "--username", "dev", "--password", "p@ss", "--favorite"))
	require.NoError(t, run(t, "add", "--title", "Mail", "--password", "m"))
	require.NoError(t, run(t, "ls"))
	require.NoError(t, run(t, "ls", "--favorites"))
	require.NoError(t, run(t, "search", "git"))

	sess := openVault(t, path)
	entries, err := sess.ListAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	github := entries[0]
	assert.Equal(t, "GitHub", github.Title)
	assert.True(t, github.IsFavorite)
	sess.Lock()

	require.NoError(t, run(t, "edit", github.ID, "--username", "octocat", "--url", ""))
	require.NoError(t, run(t, "fav", github.ID))
	require.NoError(t, run(t, "show", github.ID))
	require.NoError(t, run(t, "rm", entries[1].ID))
	assert.ErrorIs(t, run(t, "show", "missing"), core.ErrNotFound)

	sess = openVault(t, path)
	got, err := sess.Get(github.ID)
	require.NoError(t, err)
	assert.Equal(t, "octocat", got.Username)
	assert.Equal(t, "p@ss", got.Password)
	assert.False(t, got.IsFavorite)

	entries, err = sess.ListAll()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCLIRejectsBadInput(t *testing.T) {
	setupCLI(t)
	require.NoError(t, run(t, "init"))

	assert.ErrorIs(t, run(t, "add", "--username", "x"), core.ErrInvalidEntry)
	assert.Error(t, run(t, "add", "--title", "x", "--totp", "not base32!"))
	assert.Error(t, run(t, "edit", "some-id"))
	assert.Error(t, run(t, "pull", "not a pairing"))
}

func TestCLIWrongPassword(t *testing.T) {
	setupCLI(t)
	require.NoError(t, run(t, "init"))

	t.Setenv(core.PasswordEnv, "wrong")
	assert.True(t, errors.Is(run(t, "ls"), core.ErrWrongPassword))
}

func TestCLIBackupAndKeyring(t *testing.T) {
	path := setupCLI(t)
	require.NoError(t, run(t, "init"))
	require.NoError(t, run(t, "add", "--title", "GitHub", "--password", "p@ss"))

	dir := t.TempDir()
	require.NoError(t, run(t, "export", "--dir", dir, "backups/all.json"))
	assert.ErrorIs(t, run(t, "export", "--dir", dir, "backups/all.json"), core.ErrBackupExists)
	assert.Error(t, run(t, "export", "--dir", dir, "../outside.json"))
	require.NoError(t, run(t, "restore", "--dir", dir, "--dry-run", "backups/all.json"))
	require.NoError(t, run(t, "restore", "--dir", dir, "backups/all.json"))

	require.NoError(t, run(t, "keyring", "save"))
	vaultID, err := core.New(path).VaultID()
	require.NoError(t, err)
	stored, err := keyring.Get("lockpass", vaultID)
	require.NoError(t, err)
	assert.Equal(t, "correct horse", stored)

	// With no env password the keyring copy is used
	t.Setenv(core.PasswordEnv, "")
	require.NoError(t, run(t, "ls"))

	require.NoError(t, run(t, "keyring", "delete"))
	require.NoError(t, run(t, "keyring", "status"))
	require.NoError(t, run(t, "status"))
	require.NoError(t, run(t, "compact"))
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 bytes"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.size))
	}
}
