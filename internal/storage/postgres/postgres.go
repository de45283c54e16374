/*
Package postgres registers a Postgres warehouse backend.

It goes through database/sql using the pgx stdlib driver so that the whole
run can share one *sql.Tx with the other backends' code paths. Conditional
inserts use ON CONFLICT (...) DO NOTHING.
*/
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"salesdw/internal/storage"
)

const Kind = "postgres"

func init() {
	storage.Register(Kind, Open)
}

// Open connects using cfg.DSN (environment variables are expanded).
func Open(ctx context.Context, cfg storage.Config) (*storage.DB, error) {
	dsn := os.ExpandEnv(strings.TrimSpace(cfg.DSN))
	if dsn == "" {
		return nil, fmt.Errorf("postgres: empty dsn")
	}

	raw, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return storage.NewDB(raw, Dialect{}), nil
}

// Dialect implements storage.Dialect for Postgres.
type Dialect struct{}

func (Dialect) Name() string { return Kind }

func (Dialect) Rebind(q string) string { return storage.RebindNumbered(q, "$") }

func (Dialect) QuoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (Dialect) ColumnType(logical string) (string, error) {
	switch logical {
	case storage.TypeText, storage.TypeTimestamp:
		return "TEXT", nil
	case storage.TypeReal:
		return "DOUBLE PRECISION", nil
	case storage.TypeInteger:
		return "BIGINT", nil
	case storage.TypeFlag:
		return "SMALLINT", nil
	default:
		return "", fmt.Errorf("postgres: unknown column type %q", logical)
	}
}

func (d Dialect) PrimaryKeyDef(name string) string {
	return d.QuoteIdent(name) + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
}

func (Dialect) WrapCreateTable(table, defs string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table, defs)
}

// InsertSQL renders a bulk INSERT. With conflictColumns the insert becomes
// idempotent through ON CONFLICT (...) DO NOTHING, which requires a unique
// constraint on exactly those columns.
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
	return `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`
}

// MaxBindParams is the wire protocol's 16-bit parameter count limit.
func (Dialect) MaxBindParams() int { return 65535 }

var _ storage.Dialect = Dialect{}
