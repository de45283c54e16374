package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"salesdw/internal/storage"
)

func openTemp(t *testing.T) *storage.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "nested", "warehouse.sqlite")
	db, err := storage.Open(context.Background(), storage.Config{Kind: Kind, DSN: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestDSN(t *testing.T) {
	t.Parallel()

	if _, err := DSN("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if got, _ := DSN(":memory:"); got != ":memory:" {
		t.Fatalf("memory dsn=%q", got)
	}
	if got, _ := DSN("file:x.db?mode=ro"); got != "file:x.db?mode=ro" {
		t.Fatalf("uri dsn=%q", got)
	}

	path := filepath.Join(t.TempDir(), "a", "b.sqlite")
	got, err := DSN(path)
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if !strings.HasPrefix(got, "file:"+path+"?") {
		t.Fatalf("dsn=%q", got)
	}
	if !strings.Contains(got, "foreign_keys") || !strings.Contains(got, "busy_timeout") {
		t.Fatalf("dsn missing pragmas: %q", got)
	}
}

func TestInsertSQL(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	got := d.InsertSQL("silver_dim_product_line", []string{"product_line"}, 2, []string{"product_line"})
	want := `INSERT INTO silver_dim_product_line ("product_line") VALUES (?), (?) ON CONFLICT ("product_line") DO NOTHING`
	if got != want {
		t.Fatalf("got  %s\nwant %s", got, want)
	}

	plain := d.InsertSQL("t", []string{"a", "b"}, 1, nil)
	if plain != `INSERT INTO t ("a", "b") VALUES (?, ?)` {
		t.Fatalf("plain insert=%s", plain)
	}
}

func TestConditionalInsert_SkipsExisting(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)

	spec := storage.TableSpec{
		Name:        "dim_x",
		PrimaryKey:  &storage.PrimaryKeySpec{Name: "x_key"},
		Columns:     []storage.ColumnSpec{{Name: "name", Type: storage.TypeText, NotNull: true}},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"name"}}},
	}
	if err := storage.EnsureTables(ctx, db, []storage.TableSpec{spec}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	// Second call is a no-op.
	if err := storage.EnsureTables(ctx, db, []storage.TableSpec{spec}); err != nil {
		t.Fatalf("EnsureTables again: %v", err)
	}

	n, err := db.InsertRows(ctx, "dim_x", []string{"name"}, [][]any{{"a"}, {"b"}}, []string{"name"})
	if err != nil || n != 2 {
		t.Fatalf("first insert n=%d err=%v", n, err)
	}
	n, err = db.InsertRows(ctx, "dim_x", []string{"name"}, [][]any{{"b"}, {"c"}}, []string{"name"})
	if err != nil || n != 1 {
		t.Fatalf("second insert n=%d err=%v want 1", n, err)
	}

	var count int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM dim_x").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("rows=%d want 3", count)
	}

	tables, err := storage.ListTables(ctx, db)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	if !tables["dim_x"] {
		t.Fatalf("dim_x not listed: %v", tables)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)

	parent := storage.TableSpec{
		Name:       "p",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "p_key"},
		Columns:    []storage.ColumnSpec{{Name: "name", Type: storage.TypeText}},
	}
	child := storage.TableSpec{
		Name:       "c",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "c_key"},
		Columns:    []storage.ColumnSpec{{Name: "p_key", Type: storage.TypeInteger, NotNull: true, References: "p(p_key)"}},
	}
	if err := storage.EnsureTables(ctx, db, []storage.TableSpec{parent, child}); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	if _, err := db.Exec(ctx, "INSERT INTO c (p_key) VALUES (?)", 999); err == nil {
		t.Fatalf("expected foreign key violation")
	}
}

func TestTx_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	db := openTemp(t)

	if _, err := db.Exec(ctx, "CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("create: %v", err)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO t (v) VALUES (?)", 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	// A second rollback after completion is not an error.
	if err := tx.Rollback(); err != nil {
		t.Fatalf("second Rollback: %v", err)
	}

	var n int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM t").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("rows=%d want 0", n)
	}
}
