package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jchantrell/abedit/internal/asset"
	"github.com/jchantrell/abedit/internal/serialized"
	"github.com/jchantrell/abedit/internal/typetree"
	"github.com/jchantrell/abedit/internal/utils"
	"github.com/jchantrell/abedit/internal/worker"
)

var (
	showFile     string
	showPathID   int64
	showMaxItems int
)

var showCmd = &cobra.Command{
	Use:   "show <bundle> --path-id <id>",
	Short: "Print one object's fields",
	Long: `Show prints an object's class, name and size followed by every field of its
type tree. Works for any class, editable or not. Byte arrays are summarized and
other arrays are cut to --max-items elements.`,
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
		ref, err := resolveRef(b, showFile, showPathID)
		if err != nil {
			return err
		}

		t, err := coord.Inspect(ctx, b.Path, ref)
		if err != nil {
			return err
		}
		if err := t.Wait(); err != nil {
			return fmt.Errorf("reading %s: %w", ref, err)
		}
		in := t.Result().(*worker.Inspection)

		fmt.Printf("Object:   %s\n", ref)
		fmt.Printf("Class:    %s\n", serialized.ClassName(in.Object.ClassID()))
		fmt.Printf("Name:     %s\n", in.Object.AssetName())
		switch v := in.Object.(type) {
		case *asset.TextAsset:
			fmt.Printf("Script:   %s\n", utils.Bytes(int64(len(v.Script))))
		case *asset.Texture2D:
			fmt.Printf("Texture:  %dx%d %s, %d mips\n", v.Width, v.Height, v.Format, v.MipCount)
			if v.Stream != nil {
				fmt.Printf("Stream:   %s @ %d (%s)\n", v.Stream.Path, v.Stream.Offset, utils.Bytes(int64(v.Stream.Size)))
			}
		case *asset.Opaque:
			fmt.Printf("Size:     %s\n", utils.Bytes(int64(v.Size)))
		}

		if in.Fields == nil {
			fmt.Println("No type tree; fields unavailable")
			return nil
		}
		fmt.Println("Fields:")
		printStruct(os.Stdout, in.Fields, 1, showMaxItems)
		return nil
	},
}

func printStruct(w io.Writer, s *typetree.Struct, depth, maxItems int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range s.Fields {
		printValue(w, indent, f.Name, f.Value, depth, maxItems)
	}
}

func printValue(w io.Writer, indent, name string, v any, depth, maxItems int) {
	switch v := v.(type) {
	case *typetree.Struct:
		fmt.Fprintf(w, "%s%s (%s)\n", indent, name, v.Type)
		printStruct(w, v, depth+1, maxItems)
	case []byte:
		fmt.Fprintf(w, "%s%s: <%s>\n", indent, name, utils.Bytes(int64(len(v))))
	case []any:
		fmt.Fprintf(w, "%s%s: [%d]\n", indent, name, len(v))
		for i, item := range v {
			if maxItems >= 0 && i >= maxItems {
				fmt.Fprintf(w, "%s  ... %d more\n", indent, len(v)-i)
				break
			}
			printValue(w, indent+"  ", "["+strconv.Itoa(i)+"]", item, depth+1, maxItems)
		}
	case string:
		fmt.Fprintf(w, "%s%s: %q\n", indent, name, v)
	default:
		fmt.Fprintf(w, "%s%s: %v\n", indent, name, v)
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVar(&showFile, "file", "", "serialized file holding the object (optional for single-file bundles)")
	showCmd.Flags().Int64Var(&showPathID, "path-id", 0, "path id of the object")
	showCmd.Flags().IntVar(&showMaxItems, "max-items", 16, "array elements to print, -1 for all")
	_ = showCmd.MarkFlagRequired("path-id")
}
