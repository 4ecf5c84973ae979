package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jchantrell/abedit/internal/asset"
	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/cache"
	"github.com/jchantrell/abedit/internal/export"
	"github.com/jchantrell/abedit/internal/manifest"
	"github.com/jchantrell/abedit/internal/patch"
	"github.com/jchantrell/abedit/internal/utils"
	"github.com/jchantrell/abedit/internal/worker"
)

func progressEnabled() bool {
	return !(noProgress || cfg.LogFormat == "json" || cfg.LogLevel == "debug")
}

func readerOptions() (bundle.ReaderOptions, error) {
	codecs, err := bundle.NewCodecs(cfg.VendorCodecs)
	if err != nil {
		return bundle.ReaderOptions{}, fmt.Errorf("configuring codecs: %w", err)
	}
	return bundle.ReaderOptions{Codecs: codecs, Concurrency: cfg.Workers, MaxSize: cfg.MaxBundleSize}, nil
}

func newCoordinator() (*worker.Coordinator, error) {
	reader, err := readerOptions()
	if err != nil {
		return nil, err
	}
	p, err := bundle.ParsePacker(cfg.Packer)
	if err != nil {
		return nil, err
	}
	return worker.New(worker.Options{
		Workers: cfg.Workers,
		Reader:  reader,
		Writer: bundle.WriterOptions{
			Packer:      p,
			BlockSize:   cfg.BlockSize,
			Codecs:      reader.Codecs,
			Concurrency: cfg.Workers,
		},
		Plan: patch.PlanOptions{
			Alignment: cfg.ObjectAlignment,
			MaxSize:   cfg.MaxBundleSize,
		},
		Listener: worker.LogListener{},
	}), nil
}

// follow drains a task's progress into a bar and returns its error.
func follow(t *worker.Task) error {
	bar := utils.NewProgress(1, progressEnabled())
	for p := range t.Progress() {
		bar.Update(p.Current, p.Total, p.Description)
	}
	err := t.Wait()
	bar.Finish()
	return err
}

func openBundle(ctx context.Context, coord *worker.Coordinator, path string) (*bundle.Bundle, error) {
	t, err := coord.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := follow(t); err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return t.Result().(*bundle.Bundle), nil
}

// closeSessions releases every bundle the command loaded.
func closeSessions(coord *worker.Coordinator) {
	if err := coord.CloseAll(); err != nil {
		slog.Warn("Failed to close bundles", "error", err)
	}
}

// decodeWith decodes objects of path through the coordinator's session.
func decodeWith(coord *worker.Coordinator, path string) export.DecodeFunc {
	return func(ctx context.Context, ref patch.Ref) (asset.Decoded, error) {
		t, err := coord.Decode(ctx, path, ref)
		if err != nil {
			return nil, err
		}
		if err := t.Wait(); err != nil {
			return nil, err
		}
		return t.Result().(asset.Decoded), nil
	}
}

// resolveRef fills in the serialized file name when the bundle holds only
// one.
func resolveRef(b *bundle.Bundle, file string, pathID int64) (patch.Ref, error) {
	if file != "" {
		if _, ok := b.File(file); !ok {
			return patch.Ref{}, fmt.Errorf("serialized file %q not found in %s", file, b.Path)
		}
		return patch.Ref{File: file, PathID: pathID}, nil
	}
	if len(b.Files) != 1 {
		return patch.Ref{}, fmt.Errorf("%s holds %d serialized files, pass --file", b.Path, len(b.Files))
	}
	return patch.Ref{File: b.Files[0].Name, PathID: pathID}, nil
}

func loadPayload(kind, source string) (worker.Payload, error) {
	switch kind {
	case manifest.KindImage:
		img, err := export.ReadImage(source)
		if err != nil {
			return nil, err
		}
		return worker.Image(img), nil
	case manifest.KindText:
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", source, err)
		}
		return worker.Text(data), nil
	}
	return nil, fmt.Errorf("unknown payload kind %q", kind)
}

func replaceObject(ctx context.Context, coord *worker.Coordinator, path string, ref patch.Ref, payload worker.Payload) (bool, error) {
	t, err := coord.Replace(ctx, path, ref, payload)
	if err != nil {
		return false, err
	}
	if err := t.Wait(); err != nil {
		return false, fmt.Errorf("replacing %s: %w", ref, err)
	}
	return t.Result().(bool), nil
}

// saveBundle writes the session's pending edits to dest, backing up the
// source first when it is about to be overwritten and backups are enabled.
func saveBundle(ctx context.Context, coord *worker.Coordinator, b *bundle.Bundle, dest string, p bundle.Packer) (worker.SaveResult, error) {
	if dest == "" {
		dest = b.Path
	}
	destKey, err := bundle.Key(dest)
	if err != nil {
		return worker.SaveResult{}, err
	}
	if destKey == b.Path && cfg.Backup {
		copyPath, err := cache.CacheManager().Backup(b.Path, b.Fingerprint)
		if err != nil {
			return worker.SaveResult{}, fmt.Errorf("backing up %s: %w", b.Path, err)
		}
		slog.Info("Backed up bundle", "path", b.Path, "backup", copyPath)
	}
	if err := os.MkdirAll(filepath.Dir(destKey), 0755); err != nil {
		return worker.SaveResult{}, fmt.Errorf("creating output directory: %w", err)
	}

	t, err := coord.Save(ctx, b.Path, destKey, p)
	if err != nil {
		return worker.SaveResult{}, err
	}
	if err := follow(t); err != nil {
		return worker.SaveResult{}, fmt.Errorf("saving %s: %w", destKey, err)
	}
	return t.Result().(worker.SaveResult), nil
}
