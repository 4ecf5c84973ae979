package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	bundlePath := filepath.Join(dir, "ui assets.bundle")
	require.NoError(t, os.WriteFile(bundlePath, []byte("UnityFS\x00data"), 0o644))

	c := At(filepath.Join(dir, "cache"))
	dest, err := c.Backup(bundlePath, 0xabc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cache", "backups", "ui_assets.bundle.0000000000000abc"), dest)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "UnityFS\x00data", string(got))

	// An existing backup with the same fingerprint is kept.
	require.NoError(t, os.WriteFile(bundlePath, []byte("changed"), 0o644))
	_, err = c.Backup(bundlePath, 0xabc)
	require.NoError(t, err)
	got, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "UnityFS\x00data", string(got))
}

func TestBackupMissingBundle(t *testing.T) {
	_, err := At(t.TempDir()).Backup(filepath.Join(t.TempDir(), "missing.bundle"), 1)
	assert.Error(t, err)
}
