package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jchantrell/abedit/internal/utils"
)

var infoCmd = &cobra.Command{
	Use:   "info <bundle>",
	Short: "Show a bundle's header, blocks and nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		coord, err := newCoordinator()
		if err != nil {
			return err
		}
		defer closeSessions(coord)
		b, err := openBundle(ctx, coord, args[0])
		if err != nil {
			return err
		}
		c := b.Container
		h := c.Header

		unity := h.UnityVersion
		if v, err := utils.ParseUnityVersion(h.UnityVersion); err != nil {
			slog.Warn("Unrecognized Unity version", "version", h.UnityVersion, "error", err)
		} else if v.Stripped() {
			unity += " (stripped)"
		}

		fmt.Printf("Path:           %s\n", b.Path)
		fmt.Printf("Format version: %d\n", h.Version)
		fmt.Printf("Unity version:  %s\n", unity)
		fmt.Printf("Revision:       %s\n", h.UnityRevision)
		fmt.Printf("Size:           %s\n", utils.Bytes(h.Size))
		fmt.Printf("Fingerprint:    %016x\n", b.Fingerprint)
		fmt.Printf("Flags:          %#x (info %s)\n", h.Flags, h.InfoCompression())
		fmt.Printf("Blocks:         %d\n", len(c.Blocks))
		for i, blk := range c.Blocks {
			fmt.Printf("  %4d  %-6s %10s -> %10s\n", i, blk.Compression(),
				utils.Bytes(int64(blk.CompressedSize)), utils.Bytes(int64(blk.UncompressedSize)))
		}

		fmt.Printf("Nodes:          %d\n", len(c.Nodes))
		for i, n := range c.Nodes {
			kind := "other"
			switch {
			case b.FileIndex(n.Path) >= 0:
				kind = "serialized"
			case n.IsResource():
				kind = "resource"
			}
			fmt.Printf("  %4d  %-10s %12d %10s  %s\n", i, kind, n.Offset, utils.Bytes(n.Size), n.Path)
		}

		for _, f := range b.Files {
			fmt.Printf("Serialized file %s: version %d, unity %s, %d types, %d objects, %d externals\n",
				f.Name, f.Header.Version, f.UnityVersion, len(f.Types), len(f.Objects), len(f.Externals))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
