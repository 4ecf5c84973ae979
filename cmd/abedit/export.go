package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jchantrell/abedit/internal/export"
	"github.com/jchantrell/abedit/internal/patch"
	"github.com/jchantrell/abedit/internal/utils"
)

var (
	exportDir     string
	exportFile    string
	exportPathIDs []int64
	exportNodes   bool
)

var exportCmd = &cobra.Command{
	Use:   "export <bundle>",
	Short: "Export TextAsset and Texture2D objects to files",
	Long: `Export writes TextAsset payloads as-is and Texture2D images as PNG. Files are
named after their container path when the bundle records one, otherwise after
the asset name and path id. Without --path-id every supported object is
exported and objects that fail to decode are skipped.

With --nodes the raw container nodes (serialized files and resource streams)
are written instead.`,
	Args: cobra.ExactArgs(1),
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

		if exportNodes {
			progress := utils.NewProgress(len(b.Container.Nodes), progressEnabled())
			written, err := export.ExportNodes(ctx, b.Container.FS(), exportDir, func(current, total int, description string) {
				progress.Update(current, total, description)
			})
			progress.Finish()
			if err != nil {
				return err
			}
			slog.Info("Export complete", "nodes", len(written), "output", exportDir)
			for _, p := range written {
				fmt.Println(p)
			}
			return nil
		}

		var refs []patch.Ref
		for _, id := range exportPathIDs {
			ref, err := resolveRef(b, exportFile, id)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}

		progress := utils.NewProgress(len(refs), progressEnabled())
		results, err := export.NewExporter(b, exportDir).WithDecoder(decodeWith(coord, b.Path)).Export(ctx, refs, func(current, total int, description string) {
			progress.Update(current, total, description)
		})
		progress.Finish()
		if err != nil {
			return err
		}

		slog.Info("Export complete", "objects", len(results), "output", exportDir)
		for _, r := range results {
			fmt.Printf("%s\t%s\n", r.Ref, r.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportDir, "output", "o", "export", "output directory")
	exportCmd.Flags().StringVar(&exportFile, "file", "", "serialized file holding the objects (optional for single-file bundles)")
	exportCmd.Flags().BoolVar(&exportNodes, "nodes", false, "write the raw container nodes instead of decoded assets")
	exportCmd.Flags().Int64SliceVar(&exportPathIDs, "path-id", nil, "path ids to export (default all supported objects)")
}
