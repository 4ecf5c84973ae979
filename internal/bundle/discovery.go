package bundle

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// IsContainer reports whether the file at p starts with the UnityFS signature.
func IsContainer(p string) (bool, error) {
	f, err := os.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, len(Signature)+1)
	if _, err := io.ReadFull(f, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(buf, append([]byte(Signature), 0)), nil
}

// Discover expands paths into container files. Directories are walked
// recursively and only files carrying the UnityFS signature are kept;
// explicitly named files are returned as given.
func Discover(paths []string) ([]string, error) {
	var found []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", root, err)
		}
		if !info.IsDir() {
			found = append(found, root)
			continue
		}

		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ok, err := IsContainer(p)
			if err != nil {
				slog.Warn("Skipping unreadable file", "path", p, "error", err)
				return nil
			}
			if ok {
				found = append(found, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	slog.Debug("Discovered bundles", "count", len(found))
	return found, nil
}
