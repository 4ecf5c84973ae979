package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProgressCallback reports catalog insertion progress.
type ProgressCallback func(current, total int, description string)

// BulkInserter writes bundle listings into the catalog with batched
// transactions.
type BulkInserter struct {
	db        *Database
	batchSize int
}

// BulkInsertOptions configures bulk insertion behavior
type BulkInsertOptions struct {
	// BatchSize determines how many object rows to insert per transaction
	BatchSize int
}

// DefaultBulkInsertOptions returns the default batch size
func DefaultBulkInsertOptions() *BulkInsertOptions {
	return &BulkInsertOptions{BatchSize: 1000}
}

// NewBulkInserter creates a new bulk inserter with the given database and options
func NewBulkInserter(db *Database, options *BulkInsertOptions) *BulkInserter {
	if options == nil {
		options = DefaultBulkInsertOptions()
	}
	size := options.BatchSize
	if size <= 0 {
		size = DefaultBulkInsertOptions().BatchSize
	}
	return &BulkInserter{db: db, batchSize: size}
}

// BundleRecord is one row of the bundles table.
type BundleRecord struct {
	Path          string
	Fingerprint   uint64
	UnityVersion  string
	UnityRevision string
	FormatVersion uint32
	Size          int64
	Compression   string
}

// NodeRow is one row of the nodes table.
type NodeRow struct {
	Index  int
	Path   string
	Offset int64
	Size   int64
	Flags  uint32
	Kind   string
}

// ObjectRow is one row of the objects table.
type ObjectRow struct {
	File      string
	PathID    int64
	ClassID   int32
	ClassName string
	Name      string
	Container string
	Offset    int64
	Size      uint32
	Editable  bool
}

// BundleData is everything cataloged for one bundle.
type BundleData struct {
	Bundle  BundleRecord
	Nodes   []NodeRow
	Objects []ObjectRow
}

var (
	nodeColumns   = []string{"bundle_id", "node_index", "path", "offset", "size", "flags", "kind"}
	objectColumns = []string{"bundle_id", "file", "path_id", "class_id", "class_name", "name", "container", "offset", "size", "editable"}
)

// InsertBundle replaces any previous listing of the bundle's path and
// inserts the new one. It returns the bundle's row id.
func (bi *BulkInserter) InsertBundle(ctx context.Context, data *BundleData, progress ProgressCallback) (int64, error) {
	if data == nil {
		return 0, fmt.Errorf("bundle data cannot be nil")
	}
	if data.Bundle.Path == "" {
		return 0, fmt.Errorf("bundle path cannot be empty")
	}

	id, err := bi.insertBundleRow(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("inserting bundle %s: %w", data.Bundle.Path, err)
	}

	insertSQL := generateInsertSQL("objects", objectColumns)
	for i := 0; i < len(data.Objects); i += bi.batchSize {
		end := min(i+bi.batchSize, len(data.Objects))
		if err := bi.insertBatch(ctx, insertSQL, id, data.Objects[i:end]); err != nil {
			return 0, fmt.Errorf("inserting objects %d-%d for %s: %w", i, end-1, data.Bundle.Path, err)
		}
		if progress != nil {
			progress(end, len(data.Objects), "Cataloging objects")
		}
	}

	slog.Debug("Cataloged bundle", "path", data.Bundle.Path, "nodes", len(data.Nodes), "objects", len(data.Objects))
	return id, nil
}

// insertBundleRow writes the bundle and node rows in one transaction,
// cascading away a previous listing of the same path.
func (bi *BulkInserter) insertBundleRow(ctx context.Context, data *BundleData) (int64, error) {
	tx, err := bi.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM "bundles" WHERE "path" = ?`, data.Bundle.Path); err != nil {
		return 0, fmt.Errorf("removing previous listing: %w", err)
	}

	b := data.Bundle
	res, err := tx.ExecContext(ctx,
		`INSERT INTO "bundles" ("path", "fingerprint", "unity_version", "unity_revision", "format_version", "size", "compression", "cataloged_at") VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Path, fmt.Sprintf("%016x", b.Fingerprint), b.UnityVersion, b.UnityRevision, b.FormatVersion, b.Size, b.Compression,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading bundle id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, generateInsertSQL("nodes", nodeColumns))
	if err != nil {
		return 0, fmt.Errorf("preparing node statement: %w", err)
	}
	defer stmt.Close()
	for _, n := range data.Nodes {
		if _, err := stmt.ExecContext(ctx, id, n.Index, n.Path, n.Offset, n.Size, int64(n.Flags), n.Kind); err != nil {
			return 0, fmt.Errorf("inserting node %d: %w", n.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return id, nil
}

// insertBatch inserts a single batch of object rows within a transaction
func (bi *BulkInserter) insertBatch(ctx context.Context, insertSQL string, bundleID int64, batch []ObjectRow) error {
	tx, err := bi.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // Safe to call even after commit

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range batch {
		if _, err := stmt.ExecContext(ctx, objectValues(bundleID, row)...); err != nil {
			return fmt.Errorf("inserting object %s:%d: %w", row.File, row.PathID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func objectValues(bundleID int64, row ObjectRow) []any {
	return []any{
		bundleID,
		row.File,
		row.PathID,
		int64(row.ClassID),
		row.ClassName,
		nullString(row.Name),
		nullString(row.Container),
		row.Offset,
		int64(row.Size),
		row.Editable,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func generateInsertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteSQLIdentifier(c)
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteSQLIdentifier(table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "))
}
