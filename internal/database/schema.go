package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SchemaProgressCallback is called during schema creation to report progress
type SchemaProgressCallback func(current int, total int, description string)

// Column is a catalog column definition.
type Column struct {
	Name string
	Type string
	// Constraint is appended verbatim after the type.
	Constraint string
}

// Table is a catalog table definition.
type Table struct {
	Name        string
	Columns     []Column
	Constraints []string
	Indexes     [][]string
}

// CatalogTables are the tables written by the catalog command.
var CatalogTables = []Table{
	{
		Name: "bundles",
		Columns: []Column{
			{Name: "id", Type: "INTEGER", Constraint: "PRIMARY KEY"},
			{Name: "path", Type: "TEXT", Constraint: "NOT NULL UNIQUE"},
			{Name: "fingerprint", Type: "TEXT", Constraint: "NOT NULL"},
			{Name: "unity_version", Type: "TEXT"},
			{Name: "unity_revision", Type: "TEXT"},
			{Name: "format_version", Type: "INTEGER"},
			{Name: "size", Type: "INTEGER"},
			{Name: "compression", Type: "TEXT"},
			{Name: "cataloged_at", Type: "TEXT", Constraint: "NOT NULL"},
		},
	},
	{
		Name: "nodes",
		Columns: []Column{
			{Name: "bundle_id", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "node_index", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "path", Type: "TEXT", Constraint: "NOT NULL"},
			{Name: "offset", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "size", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "flags", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "kind", Type: "TEXT", Constraint: "NOT NULL"},
		},
		Constraints: []string{
			"PRIMARY KEY (bundle_id, node_index)",
			"FOREIGN KEY (bundle_id) REFERENCES bundles(id) ON DELETE CASCADE",
		},
	},
	{
		Name: "objects",
		Columns: []Column{
			{Name: "bundle_id", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "file", Type: "TEXT", Constraint: "NOT NULL"},
			{Name: "path_id", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "class_id", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "class_name", Type: "TEXT", Constraint: "NOT NULL"},
			{Name: "name", Type: "TEXT"},
			{Name: "container", Type: "TEXT"},
			{Name: "offset", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "size", Type: "INTEGER", Constraint: "NOT NULL"},
			{Name: "editable", Type: "INTEGER", Constraint: "NOT NULL"},
		},
		Constraints: []string{
			"PRIMARY KEY (bundle_id, file, path_id)",
			"FOREIGN KEY (bundle_id) REFERENCES bundles(id) ON DELETE CASCADE",
		},
		Indexes: [][]string{{"class_id"}, {"name"}},
	},
}

// DDLManager handles schema creation
type DDLManager struct {
	db *Database
}

// NewDDLManager creates a new DDL manager
func NewDDLManager(db *Database) *DDLManager {
	return &DDLManager{db: db}
}

// GenerateTableDDL generates CREATE TABLE and CREATE INDEX statements for a table
func (dm *DDLManager) GenerateTableDDL(table Table) ([]string, error) {
	if table.Name == "" {
		return nil, fmt.Errorf("table name cannot be empty")
	}
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", table.Name)
	}

	defs := make([]string, 0, len(table.Columns)+len(table.Constraints))
	for _, c := range table.Columns {
		def := quoteSQLIdentifier(c.Name) + " " + c.Type
		if c.Constraint != "" {
			def += " " + c.Constraint
		}
		defs = append(defs, def)
	}
	defs = append(defs, table.Constraints...)

	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		quoteSQLIdentifier(table.Name),
		strings.Join(defs, ",\n    "))}

	for _, cols := range table.Indexes {
		quoted := make([]string, len(cols))
		for i, c := range cols {
			quoted[i] = quoteSQLIdentifier(c)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteSQLIdentifier(fmt.Sprintf("idx_%s_%s", table.Name, strings.Join(cols, "_"))),
			quoteSQLIdentifier(table.Name),
			strings.Join(quoted, ", ")))
	}
	return stmts, nil
}

// CreateSchemas creates the given tables in a single transaction
func (dm *DDLManager) CreateSchemas(ctx context.Context, tables []Table, progressCallback SchemaProgressCallback) error {
	if dm.db == nil {
		return fmt.Errorf("database cannot be nil")
	}

	tx, err := dm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, table := range tables {
		stmts, err := dm.GenerateTableDDL(table)
		if err != nil {
			return fmt.Errorf("generating DDL for %s: %w", table.Name, err)
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating table %s: %w", table.Name, err)
			}
		}
		if progressCallback != nil {
			progressCallback(i+1, len(tables), table.Name)
		}
		slog.Debug("Created table schema", "table", table.Name, "columns", len(table.Columns))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema: %w", err)
	}
	return nil
}

// quoteSQLIdentifier quotes a SQL identifier to handle reserved keywords
func quoteSQLIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
