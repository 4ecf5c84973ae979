package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jchantrell/abedit/internal/manifest"
)

var (
	replaceFile   string
	replacePathID int64
	replaceSource string
	replaceKind   string
	replaceOutput string
)

var replaceCmd = &cobra.Command{
	Use:   "replace <bundle>",
	Short: "Replace one object's payload and write the patched bundle",
	Long: `Replace swaps the payload of a TextAsset (raw bytes) or Texture2D (PNG, JPEG
or GIF image, stored as RGBA32) and writes the bundle to --output, or over the
source bundle when no output is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		edit := manifest.Edit{File: replaceFile, PathID: replacePathID, Source: replaceSource, Kind: replaceKind}
		payload, err := loadPayload(edit.ResolvedKind(), edit.Source)
		if err != nil {
			return err
		}

		coord, err := newCoordinator()
		if err != nil {
			return err
		}
		defer closeSessions(coord)
		b, err := openBundle(ctx, coord, args[0])
		if err != nil {
			return err
		}
		ref, err := resolveRef(b, replaceFile, replacePathID)
		if err != nil {
			return err
		}

		pending, err := replaceObject(ctx, coord, b.Path, ref, payload)
		if err != nil {
			return err
		}
		if !pending {
			slog.Info("Replacement matches the current object, nothing to write", "object", ref.String())
			return nil
		}

		result, err := saveBundle(ctx, coord, b, replaceOutput, "")
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%d bytes, %d objects changed)\n", result.Dest, result.Size, result.Changed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replaceCmd)
	replaceCmd.Flags().StringVar(&replaceFile, "file", "", "serialized file holding the object (optional for single-file bundles)")
	replaceCmd.Flags().Int64Var(&replacePathID, "path-id", 0, "path id of the object to replace")
	replaceCmd.Flags().StringVarP(&replaceSource, "source", "s", "", "file with the replacement content")
	replaceCmd.Flags().StringVar(&replaceKind, "kind", "", "payload kind (text, image); inferred from the source extension")
	replaceCmd.Flags().StringVarP(&replaceOutput, "output", "o", "", "output bundle path (default overwrites the source)")
	_ = replaceCmd.MarkFlagRequired("path-id")
	_ = replaceCmd.MarkFlagRequired("source")
}
