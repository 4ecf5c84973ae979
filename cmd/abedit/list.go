package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jchantrell/abedit/internal/asset"
	"github.com/jchantrell/abedit/internal/utils"
)

var (
	listClasses  []string
	listEditable bool
)

var listCmd = &cobra.Command{
	Use:   "list <bundle>",
	Short: "List the objects in a bundle",
	Long: `List prints one line per object of every serialized file in the bundle: the
file, path id, class, name, container path, size and whether abedit can
decode and replace it.`,
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

		classes := make(map[string]bool, len(listClasses))
		for _, c := range listClasses {
			classes[strings.ToLower(c)] = true
		}

		fmt.Printf("%-24s %20s %-14s %-32s %10s %s\n", "File", "PathID", "Class", "Name", "Size", "Editable")
		fmt.Println(strings.Repeat("-", 112))

		shown := 0
		for _, f := range b.Files {
			containers := asset.ContainerPaths(f)
			for _, o := range f.Objects {
				info := asset.Inspect(f, o)
				if len(classes) > 0 && !classes[strings.ToLower(info.ClassName)] {
					continue
				}
				if listEditable && !info.Editable {
					continue
				}
				name := info.Name
				if c, ok := containers[o.PathID]; ok {
					name = c
				}
				editable := "no"
				if info.Editable {
					editable = "yes"
				}
				fmt.Printf("%-24s %20d %-14s %-32s %10s %s\n",
					truncate(info.File, 24), info.PathID, info.ClassName, truncate(name, 32),
					utils.Bytes(int64(info.Size)), editable)
				shown++
			}
		}

		fmt.Printf("\n%s of %s objects\n", utils.Number(int64(shown)), utils.Number(int64(b.ObjectCount())))
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-2] + ".."
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringSliceVar(&listClasses, "class", nil, "only list objects of these classes (e.g. TextAsset,Texture2D)")
	listCmd.Flags().BoolVar(&listEditable, "editable", false, "only list objects that can be replaced")
}
