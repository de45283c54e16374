package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Config is the minimal configuration needed to open a Store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend opener; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Dialect captures the SQL differences between backends.
//
// Warehouse code writes statements with '?' placeholders and unquoted,
// lower-case identifiers; the dialect rebinds placeholders and renders the
// statements that differ structurally (DDL, conditional insert, catalog
// queries).
type Dialect interface {
	Name() string

	// Rebind converts '?' placeholders into the backend's native form.
	Rebind(query string) string

	QuoteIdent(name string) string

	// ColumnType maps a logical column type (TypeText, ...) to SQL.
	ColumnType(logical string) (string, error)

	// PrimaryKeyDef renders a generated surrogate key column definition.
	PrimaryKeyDef(name string) string

	// WrapCreateTable turns column definitions into an idempotent CREATE TABLE.
	WrapCreateTable(table, defs string) string

	// InsertSQL renders a multi-row insert with '?' placeholders.
	//
	// With a non-empty conflictColumns the statement must implement the
	// conditional-insert contract: a row is inserted iff no row with equal
	// values in conflictColumns already exists in table; matches are skipped
	// without error and are not counted in RowsAffected. Rows within one
	// statement must not conflict with each other.
	InsertSQL(table string, columns []string, nrows int, conflictColumns []string) string

	// ListTablesSQL returns a query yielding one base table name per row.
	ListTablesSQL() string

	// MaxBindParams is the largest number of bind parameters one statement may carry.
	MaxBindParams() int
}

// Querier is the set of primitives the warehouse and the validator need.
// Both *DB and *Tx implement it.
type Querier interface {
	Dialect() Dialect

	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, query string, args ...any) (int64, error)

	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row

	// InsertRows batch-inserts rows, chunked to the dialect's parameter limit.
	// A non-empty conflictColumns selects conditional-insert semantics
	// (see Dialect.InsertSQL). Returns the number of rows actually inserted.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error)
}

// conn is the subset of *sql.DB / *sql.Tx used by handle.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type handle struct {
	c conn
	d Dialect
}

func (h handle) Dialect() Dialect { return h.d }

func (h handle) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := h.c.ExecContext(ctx, h.d.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (h handle) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return h.c.QueryContext(ctx, h.d.Rebind(query), args...)
}

func (h handle) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return h.c.QueryRowContext(ctx, h.d.Rebind(query), args...)
}

func (h handle) InsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: no columns", table)
	}

	per := h.d.MaxBindParams() / len(columns)
	if per < 1 {
		per = 1
	}

	var total int64
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		args := make([]any, 0, len(chunk)*len(columns))
		for i, row := range chunk {
			if len(row) != len(columns) {
				return total, fmt.Errorf("insert %s: row %d has %d values, want %d", table, start+i, len(row), len(columns))
			}
			args = append(args, row...)
		}

		q := h.d.InsertSQL(table, columns, len(chunk), conflictColumns)
		n, err := h.Exec(ctx, q, args...)
		if err != nil {
			return total, fmt.Errorf("insert %s: %w", table, err)
		}
		total += n
	}
	return total, nil
}

// DB is a store handle bound to one backend dialect.
type DB struct {
	handle
	raw *sql.DB
}

// NewDB wraps an open *sql.DB. Backends call this from their opener.
func NewDB(raw *sql.DB, d Dialect) *DB {
	return &DB{handle: handle{c: raw, d: d}, raw: raw}
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	if db == nil || db.raw == nil {
		return nil
	}
	return db.raw.Close()
}

// Begin starts the run's single writer transaction.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{handle: handle{c: tx, d: db.d}, tx: tx}, nil
}

// EnsureTables creates the given tables if they do not exist, in order.
// Tables referenced by foreign keys must come first.
func EnsureTables(ctx context.Context, q Querier, tables []TableSpec) error {
	for _, t := range tables {
		ddl, err := BuildCreateTableSQL(q.Dialect(), t)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// ListTables returns the set of base table names visible to q.
func ListTables(ctx context.Context, q Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx, q.Dialect().ListTablesSQL())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[strings.ToLower(name)] = true
	}
	return out, rows.Err()
}

// Tx is the exclusive writer scope of one pipeline run.
type Tx struct {
	handle
	tx *sql.Tx
}

func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction. It is safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// ---- backend registry ----

// Opener opens a DB for a backend kind.
type Opener func(ctx context.Context, cfg Config) (*DB, error)

var (
	mu      sync.RWMutex
	openers = map[string]Opener{}
)

// Register registers a backend under a kind (e.g. "sqlite", "postgres").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Registering
//     twice is a programming error and fails fast.
func Register(kind string, f Opener) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil opener")
	}
	if _, exists := openers[kind]; exists {
		panic(fmt.Sprintf("storage: opener already registered for kind=%q", kind))
	}
	openers[kind] = f
}

// Open constructs a DB using the registered backend opener.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered opener returns.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := openers[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(openers))
	for k := range openers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
