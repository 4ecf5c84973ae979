package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Cache resolves abedit's per-user data directory
type Cache struct {
	root string
}

// CacheManager creates a cache rooted at ~/.abedit, or ./.abedit when the
// home directory is unknown
func CacheManager() *Cache {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return &Cache{root: filepath.Join(".", ".abedit")}
	}
	return &Cache{root: filepath.Join(homeDir, ".abedit")}
}

// At creates a cache rooted at dir
func At(dir string) *Cache {
	return &Cache{root: dir}
}

// GetCacheDir returns the cache root
func (m *Cache) GetCacheDir() string {
	return m.root
}

// GetBackupDir returns the directory holding pre-save copies of bundles
func (m *Cache) GetBackupDir() string {
	return filepath.Join(m.root, "backups")
}

// GetBackupPath returns the backup location for a bundle with the given
// content fingerprint
func (m *Cache) GetBackupPath(bundlePath string, fingerprint uint64) string {
	safeName := strings.ReplaceAll(filepath.Base(bundlePath), " ", "_")
	return filepath.Join(m.GetBackupDir(), fmt.Sprintf("%s.%016x", safeName, fingerprint))
}

// EnsureDir creates a directory and all parent directories
func (m *Cache) EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// FileExists checks if a file exists
func (m *Cache) FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

// Backup copies bundlePath into the backup directory unless a copy with the
// same fingerprint already exists. It returns the backup path.
func (m *Cache) Backup(bundlePath string, fingerprint uint64) (string, error) {
	dest := m.GetBackupPath(bundlePath, fingerprint)
	if m.FileExists(dest) {
		return dest, nil
	}
	if err := m.EnsureDir(m.GetBackupDir()); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	src, err := os.Open(bundlePath)
	if err != nil {
		return "", fmt.Errorf("opening bundle: %w", err)
	}
	defer src.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("creating backup: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("copying bundle: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("closing backup: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("renaming backup: %w", err)
	}
	return dest, nil
}
