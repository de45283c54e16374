// Package sqlite registers the default warehouse backend on modernc.org/sqlite.
//
// Key design points vs Postgres:
//   - SQLite has no native timestamp type; timestamps are TEXT in
//     storage.TimestampLayout so SCD2 interval ends compare as strings.
//   - Foreign keys are only enforced when PRAGMA foreign_keys=ON, which must be
//     set per connection. The DSN carries it as a _pragma parameter.
//   - SQLite allows one writer; the pool is limited to a single connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"salesdw/internal/storage"
)

const Kind = "sqlite"

func init() {
	storage.Register(Kind, Open)
}

// Open opens (creating if needed) the SQLite database named by cfg.DSN.
//
// cfg.DSN may be a plain file path or a "file:" URI. Plain paths get their
// parent directory created and the required pragmas appended.
func Open(ctx context.Context, cfg storage.Config) (*storage.DB, error) {
	dsn, err := DSN(cfg.DSN)
	if err != nil {
		return nil, err
	}

	raw, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(1)
	raw.SetMaxIdleConns(1)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return storage.NewDB(raw, Dialect{}), nil
}

// DSN turns a file path into a modernc DSN with foreign keys and a busy
// timeout enabled. "file:" URIs and ":memory:" are returned unchanged.
func DSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("sqlite: empty database path")
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("sqlite: create db dir: %w", err)
		}
	}

	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	return "file:" + path + "?" + q.Encode(), nil
}

// Dialect implements storage.Dialect for SQLite.
type Dialect struct{}

func (Dialect) Name() string { return Kind }

// Rebind is the identity: SQLite accepts '?' natively.
func (Dialect) Rebind(q string) string { return q }

func (Dialect) QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (Dialect) ColumnType(logical string) (string, error) {
	switch logical {
	case storage.TypeText, storage.TypeTimestamp:
		return "TEXT", nil
	case storage.TypeReal:
		return "REAL", nil
	case storage.TypeInteger, storage.TypeFlag:
		return "INTEGER", nil
	default:
		return "", fmt.Errorf("sqlite: unknown column type %q", logical)
	}
}

// PrimaryKeyDef uses INTEGER PRIMARY KEY, which aliases the rowid and
// auto-generates values.
func (d Dialect) PrimaryKeyDef(name string) string {
	return d.QuoteIdent(name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (Dialect) WrapCreateTable(table, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table, defs)
}

// InsertSQL uses ON CONFLICT (...) DO NOTHING for conditional inserts. The
// conflict target must be covered by a UNIQUE constraint.
func (d Dialect) InsertSQL(table string, columns []string, nrows int, conflictColumns []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(storage.JoinIdents(d, columns))
	b.WriteString(") VALUES ")
	b.WriteString(storage.ValuesList(len(columns), nrows))
	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(storage.JoinIdents(d, conflictColumns))
		b.WriteString(") DO NOTHING")
	}
	return b.String()
}

func (Dialect) ListTablesSQL() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`
}

// MaxBindParams stays below SQLITE_MAX_VARIABLE_NUMBER of older builds (32766).
func (Dialect) MaxBindParams() int { return 32000 }

var _ storage.Dialect = Dialect{}
