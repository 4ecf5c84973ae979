package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jchantrell/abedit/internal/asset"
	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/errs"
	"github.com/jchantrell/abedit/internal/patch"
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/utils"
)

// Exporter writes decoded assets of a bundle to disk
type Exporter struct {
	bundle    *bundle.Bundle
	outputDir string
	used      map[string]bool
	decode    DecodeFunc
}

// DecodeFunc decodes one object of the exported bundle.
type DecodeFunc func(ctx context.Context, ref patch.Ref) (asset.Decoded, error)

// NewExporter creates a new asset exporter
func NewExporter(b *bundle.Bundle, outputDir string) *Exporter {
	return &Exporter{
		bundle:    b,
		outputDir: outputDir,
		used:      map[string]bool{},
	}
}

// WithDecoder routes decoding through fn instead of reading the bundle
// directly, so a caller can hold the bundle's session lock while it is read.
func (e *Exporter) WithDecoder(fn DecodeFunc) *Exporter {
	e.decode = fn
	return e
}

// ProgressCallback is called to report export progress
type ProgressCallback func(current int, total int, description string)

// Result records one exported object.
type Result struct {
	Ref  patch.Ref
	Path string
}

type target struct {
	file      *serialized.File
	object    *serialized.Object
	container string
}

// Export writes the given objects, or every TextAsset and Texture2D when refs
// is empty. Explicitly requested objects that cannot be exported fail the
// export; in the export-all case they are logged and skipped.
func (e *Exporter) Export(ctx context.Context, refs []patch.Ref, progressCallback ProgressCallback) ([]Result, error) {
	targets, err := e.targets(refs)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	explicit := len(refs) > 0
	results := make([]Result, 0, len(targets))
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		ref := patch.Ref{File: t.file.Name, PathID: t.object.PathID}

		outputPath, err := e.exportOne(ctx, ref, t)
		if err != nil {
			if explicit {
				return results, fmt.Errorf("exporting %s: %w", ref, err)
			}
			slog.Warn("Skipping object", "ref", ref.String(), "error", err)
		} else {
			results = append(results, Result{Ref: ref, Path: outputPath})
			slog.Debug("Exported object", "ref", ref.String(), "output", outputPath)
		}

		if progressCallback != nil {
			progressCallback(i+1, len(targets), filepath.Base(outputPath))
		}
	}
	return results, nil
}

func (e *Exporter) targets(refs []patch.Ref) ([]target, error) {
	containers := map[string]map[int64]string{}
	paths := func(f *serialized.File) map[int64]string {
		if m, ok := containers[f.Name]; ok {
			return m
		}
		m := asset.ContainerPaths(f)
		containers[f.Name] = m
		return m
	}

	var targets []target
	if len(refs) == 0 {
		for _, f := range e.bundle.Files {
			for _, o := range f.Objects {
				if asset.Supported(o.ClassID) {
					targets = append(targets, target{f, o, paths(f)[o.PathID]})
				}
			}
		}
		return targets, nil
	}

	for _, ref := range refs {
		f, o, err := e.lookup(ref)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target{f, o, paths(f)[o.PathID]})
	}
	return targets, nil
}

// lookup resolves a ref. An empty file name matches the only serialized
// file of single-file bundles.
func (e *Exporter) lookup(ref patch.Ref) (*serialized.File, *serialized.Object, error) {
	var f *serialized.File
	switch {
	case ref.File != "":
		var ok bool
		if f, ok = e.bundle.File(ref.File); !ok {
			return nil, nil, fmt.Errorf("serialized file %q not found", ref.File)
		}
	case len(e.bundle.Files) == 1:
		f = e.bundle.Files[0]
	default:
		return nil, nil, fmt.Errorf("bundle has %d serialized files, name one for path id %d", len(e.bundle.Files), ref.PathID)
	}
	o, ok := f.Object(ref.PathID)
	if !ok {
		return nil, nil, fmt.Errorf("object %d not found in %s", ref.PathID, f.Name)
	}
	return f, o, nil
}

func (e *Exporter) exportOne(ctx context.Context, ref patch.Ref, t target) (string, error) {
	var d asset.Decoded
	var err error
	if e.decode != nil {
		d, err = e.decode(ctx, ref)
	} else {
		d, err = asset.Decode(t.file, t.object, e.bundle)
	}
	if err != nil {
		return "", err
	}

	switch v := d.(type) {
	case *asset.TextAsset:
		outputPath := e.outputPath(t, v.Name, ".txt", false)
		if err := os.WriteFile(outputPath, v.Script, 0644); err != nil {
			return "", fmt.Errorf("writing file %s: %w", outputPath, err)
		}
		return outputPath, nil
	case *asset.Texture2D:
		img, err := v.Image()
		if err != nil {
			return "", err
		}
		outputPath := e.outputPath(t, v.Name, ".png", true)
		if err := WritePNG(img, outputPath); err != nil {
			return "", err
		}
		return outputPath, nil
	}
	return "", errs.Kind(errs.ErrUnsupportedAssetType, "cannot export %T", d)
}

// outputPath names an export after its container path, or after the asset
// name plus path id. Textures always get ext; other assets keep their own
// extension when they have one.
func (e *Exporter) outputPath(t target, name, ext string, forceExt bool) string {
	id := strconv.FormatInt(t.object.PathID, 10)
	base := path.Base(t.container)
	if t.container == "" {
		stem, own := splitExt(name)
		base = stem + "_" + id + own
	}

	stem, own := splitExt(base)
	if forceExt || own == "" {
		own = ext
	}
	stem = utils.SanitizeFileName(stem)
	if stem == "" || stem == "_"+id {
		stem = serialized.ClassName(t.object.ClassID) + "_" + id
	}

	file := stem + own
	if e.used[file] {
		file = stem + "_" + id + own
	}
	e.used[file] = true
	return filepath.Join(e.outputDir, file)
}

// splitExt splits at the first dot so "table.bytes.txt" keeps ".bytes".
func splitExt(name string) (string, string) {
	i := strings.IndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i:i+1] + strings.SplitN(name[i+1:], ".", 2)[0]
}
