package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/manifest"
	"github.com/jchantrell/abedit/internal/patch"
	"github.com/jchantrell/abedit/internal/utils"
	"github.com/jchantrell/abedit/internal/worker"
)

var applyCmd = &cobra.Command{
	Use:   "apply <manifest.yaml>",
	Short: "Apply a YAML manifest of replacements to one or more bundles",
	Long: `Apply reads a manifest naming a bundle, an optional output path and packer,
and a list of edits:

  bundle: data/ui.bundle
  output: out/ui.bundle
  packer: lz4hc
  edits:
    - file: CAB-3f2a
      path_id: 42
      source: strings.json
    - path_id: 7
      source: icon.png

Further bundles go under "bundles", each with its own edits and optional
output. "output_dir" writes every bundle without an output of its own to a
file of the same name in that directory:

  output_dir: patched
  bundles:
    - bundle: data/ui.bundle
      edits: [{path_id: 42, source: strings.json}]
    - bundle: data/fonts.bundle
      edits: [{path_id: 3, source: glyphs.png}]

Each bundle is handled on its own: its edits are recorded and it is written
once. A bundle whose edits fail is left unwritten and the others still are.
Relative paths are resolved against the manifest's directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		m, err := manifest.Load(args[0])
		if err != nil {
			return err
		}
		var p bundle.Packer
		if m.Packer != "" {
			if p, err = bundle.ParsePacker(m.Packer); err != nil {
				return fmt.Errorf("manifest packer: %w", err)
			}
		}

		coord, err := newCoordinator()
		if err != nil {
			return err
		}
		defer closeSessions(coord)

		var failed []error
		for _, t := range m.Targets() {
			if err := ctx.Err(); err != nil {
				failed = append(failed, err)
				break
			}
			if err := applyTarget(ctx, coord, t, m.Destination(t), p); err != nil {
				slog.Error("Bundle not written", "bundle", t.Bundle, "error", err)
				failed = append(failed, fmt.Errorf("%s: %w", t.Bundle, err))
			}
		}
		return errors.Join(failed...)
	},
}

// applyTarget records a target's edits and saves them. When an edit fails
// the edits recorded before it are discarded and nothing is written.
func applyTarget(ctx context.Context, coord *worker.Coordinator, t manifest.Target, dest string, p bundle.Packer) error {
	b, err := openBundle(ctx, coord, t.Bundle)
	if err != nil {
		return err
	}
	defer func() {
		if err := coord.Close(b.Path); err != nil && !errors.Is(err, worker.ErrNotOpen) {
			slog.Warn("Failed to close bundle", "bundle", b.Path, "error", err)
		}
	}()

	var recorded []patch.Ref
	discard := func() {
		for _, ref := range recorded {
			if err := coord.Discard(b.Path, ref); err != nil {
				slog.Warn("Failed to discard edit", "bundle", b.Path, "ref", ref.String(), "error", err)
			}
		}
	}

	progress := utils.NewProgress(len(t.Edits), progressEnabled())
	for i, e := range t.Edits {
		ref, err := resolveRef(b, e.File, e.PathID)
		if err == nil {
			var payload worker.Payload
			if payload, err = loadPayload(e.ResolvedKind(), e.Source); err == nil {
				var changed bool
				if changed, err = replaceObject(ctx, coord, b.Path, ref, payload); changed {
					recorded = append(recorded, ref)
				}
			}
		}
		if err != nil {
			progress.Finish()
			discard()
			return fmt.Errorf("edit %d: %w", i, err)
		}
		progress.Update(i+1, len(t.Edits), ref.String())
	}
	progress.Finish()

	if s, ok := coord.Session(b.Path); !ok || len(s.Edits()) == 0 {
		slog.Info("No edit changes the bundle, nothing to write", "bundle", b.Path)
		return nil
	}

	result, err := saveBundle(ctx, coord, b, dest, p)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d bytes, %d objects changed)\n", result.Dest, result.Size, result.Changed)
	return nil
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
