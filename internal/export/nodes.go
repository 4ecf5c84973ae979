package export

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jchantrell/abedit/internal/utils"
)

// ExportNodes copies every file of fsys, typically a container's node
// filesystem, into outputDir. Path elements are sanitized so resource
// paths such as "archive:/CAB-1/CAB-1.resS" become valid file names.
func ExportNodes(ctx context.Context, fsys fs.FS, outputDir string, progressCallback ProgressCallback) ([]string, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	written := make([]string, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return written, fmt.Errorf("reading node %s: %w", name, err)
		}
		outputPath := filepath.Join(outputDir, nodePath(name))
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return written, fmt.Errorf("creating output directory: %w", err)
		}
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			return written, fmt.Errorf("writing file %s: %w", outputPath, err)
		}
		written = append(written, outputPath)
		slog.Debug("Exported node", "node", name, "output", outputPath, "size", len(data))

		if progressCallback != nil {
			progressCallback(i+1, len(names), name)
		}
	}
	return written, nil
}

func nodePath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = utils.SanitizeFileName(p)
	}
	return filepath.Join(parts...)
}
