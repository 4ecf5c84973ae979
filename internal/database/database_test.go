package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jchantrell/abedit/internal/bundle"
	"github.com/jchantrell/abedit/internal/testbundle"
)

func openCatalog(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(DefaultDatabaseOptions(filepath.Join(t.TempDir(), "catalog", "abedit.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, NewDDLManager(db).CreateSchemas(context.Background(), CatalogTables, nil))
	return db
}

func fixtureBundle(t *testing.T) *bundle.Bundle {
	t.Helper()
	file := testbundle.Serialized(testbundle.Spec{Objects: []testbundle.Object{
		{PathID: 1, Tree: testbundle.AssetBundleTree, Data: testbundle.AssetBundle("ui", []testbundle.ContainerEntry{
			{Path: "assets/ui/strings.json", PathID: 2},
		})},
		{PathID: 2, Tree: testbundle.TextAssetTree, Data: testbundle.TextAsset("strings", []byte(`{"hello":"world"}`))},
		{PathID: 3, Tree: testbundle.OpaqueTree, Data: testbundle.Opaque(5)},
	}})
	data := testbundle.Bundle([]testbundle.Node{testbundle.SerializedNode("CAB-ui", file)}, testbundle.BundleOptions{})
	b, err := bundle.LoadBytes(context.Background(), "/bundles/ui.bundle", data, nil)
	require.NoError(t, err)
	return b
}

func TestGenerateTableDDL(t *testing.T) {
	stmts, err := NewDDLManager(nil).GenerateTableDDL(CatalogTables[2])
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], `CREATE TABLE IF NOT EXISTS "objects"`)
	assert.Contains(t, stmts[0], "PRIMARY KEY (bundle_id, file, path_id)")
	assert.Contains(t, stmts[1], `"idx_objects_class_id"`)

	_, err = NewDDLManager(nil).GenerateTableDDL(Table{Name: "empty"})
	assert.Error(t, err)
}

func TestCreateSchemas(t *testing.T) {
	db := openCatalog(t)
	tables, err := db.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bundles", "nodes", "objects"}, tables)
}

func TestInsertBundle(t *testing.T) {
	ctx := context.Background()
	db := openCatalog(t)
	data := FromBundle(fixtureBundle(t))
	require.Len(t, data.Objects, 3)

	var calls int
	inserter := NewBulkInserter(db, &BulkInsertOptions{BatchSize: 2})
	_, err := inserter.InsertBundle(ctx, data, func(current, total int, _ string) {
		calls++
		assert.LessOrEqual(t, current, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	var name, container, className string
	var editable bool
	row := db.QueryRow(ctx, `SELECT name, container, class_name, editable FROM objects WHERE path_id = 2`)
	require.NoError(t, row.Scan(&name, &container, &className, &editable))
	assert.Equal(t, "strings", name)
	assert.Equal(t, "assets/ui/strings.json", container)
	assert.Equal(t, "TextAsset", className)
	assert.True(t, editable)

	var kind string
	require.NoError(t, db.QueryRow(ctx, `SELECT kind FROM nodes WHERE node_index = 0`).Scan(&kind))
	assert.Equal(t, "serialized", kind)
}

func TestInsertBundleReplacesListing(t *testing.T) {
	ctx := context.Background()
	db := openCatalog(t)
	data := FromBundle(fixtureBundle(t))
	inserter := NewBulkInserter(db, nil)

	_, err := inserter.InsertBundle(ctx, data, nil)
	require.NoError(t, err)
	_, err = inserter.InsertBundle(ctx, data, nil)
	require.NoError(t, err)

	var bundles, objects int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM bundles`).Scan(&bundles))
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM objects`).Scan(&objects))
	assert.Equal(t, 1, bundles)
	assert.Equal(t, 3, objects)
}

func TestClosedDatabase(t *testing.T) {
	db := openCatalog(t)
	require.NoError(t, db.Close())
	_, err := db.Tables(context.Background())
	assert.Error(t, err)
	assert.NoError(t, db.Close())
}
