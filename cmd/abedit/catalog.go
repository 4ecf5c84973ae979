package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/database"
	"github.com/jchantrell/abedit/internal/utils"
)

type CatalogStats struct {
	StartTime time.Time
	Bundles   int
	Failed    int
	Objects   int64
}

var catalogCmd = &cobra.Command{
	Use:   "catalog <bundle or directory>...",
	Short: "Index bundles into the SQLite catalog",
	Long: `Catalog loads every UnityFS bundle found under the given paths and records its
header, nodes and objects in the catalog database. Re-cataloging a bundle
replaces its previous listing. Query the result with 'abedit query'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		stats := &CatalogStats{StartTime: time.Now()}

		paths, err := bundle.Discover(args)
		if err != nil {
			return fmt.Errorf("discovering bundles: %w", err)
		}
		if len(paths) == 0 {
			slog.Info("No bundles found", "paths", args)
			return nil
		}
		slog.Info("Cataloging bundles", "count", len(paths), "database", cfg.Database)

		db, err := database.NewDatabase(database.DefaultDatabaseOptions(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		if err := database.NewDDLManager(db).CreateSchemas(ctx, database.CatalogTables, nil); err != nil {
			return fmt.Errorf("creating schemas: %w", err)
		}

		reader, err := readerOptions()
		if err != nil {
			return err
		}
		inserter := database.NewBulkInserter(db, nil)
		progress := utils.NewProgress(len(paths), progressEnabled())

		// Bundles load in parallel; SQLite writes stay on this goroutine.
		loaded := make(chan *bundle.Bundle)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Workers)
		go func() {
			defer close(loaded)
			for _, p := range paths {
				g.Go(func() error {
					b, err := bundle.Load(gctx, p, &reader)
					if err != nil {
						slog.Error("Failed to load bundle", "path", p, "error", err)
						b = nil
					}
					select {
					case loaded <- b:
						return nil
					case <-gctx.Done():
						return gctx.Err()
					}
				})
			}
			_ = g.Wait()
		}()

		done := 0
		for b := range loaded {
			done++
			if b == nil {
				stats.Failed++
				progress.Update(done, len(paths), "failed")
				continue
			}
			data := database.FromBundle(b)
			if _, err := inserter.InsertBundle(ctx, data, nil); err != nil {
				slog.Error("Failed to catalog bundle", "path", b.Path, "error", err)
				stats.Failed++
			} else {
				stats.Bundles++
				stats.Objects += int64(len(data.Objects))
			}
			progress.Update(done, len(paths), b.Path)
		}
		if err := g.Wait(); err != nil {
			return err
		}
		progress.Finish()

		elapsed := time.Since(stats.StartTime)
		var rate float64
		if elapsed.Seconds() > 0 {
			rate = float64(stats.Objects) / elapsed.Seconds()
		}
		fmt.Printf("Bundles cataloged: %d/%d\n", stats.Bundles, len(paths))
		fmt.Printf("Bundles failed: %d\n", stats.Failed)
		fmt.Printf("Objects: %s\n", utils.Number(stats.Objects))
		fmt.Printf("Duration: %s\n", utils.Duration(elapsed))
		fmt.Printf("Rate: %s objects/sec\n", utils.Rate(rate))
		fmt.Println("Try running: abedit query --tables")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
