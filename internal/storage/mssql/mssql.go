package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"salesdw/internal/storage"
)

// Kind is the storage kind this package registers.
//
// SQL Server specifics:
//   - Parameters are @p1..@pN; '?' placeholders are rebound.
//   - There is no ON CONFLICT; conditional inserts are INSERT ... SELECT from
//     a VALUES derived table filtered by NOT EXISTS on the conflict columns.
//   - A statement may carry at most 2100 parameters.
//   - CREATE TABLE has no IF NOT EXISTS; it is guarded by OBJECT_ID.
const Kind = "mssql"

func init() {
	storage.Register(Kind, Open)
}

// Open connects with the "sqlserver" driver registered by go-mssqldb.
func Open(ctx context.Context, cfg storage.Config) (*storage.DB, error) {
	dsn := os.ExpandEnv(strings.TrimSpace(cfg.DSN))
	if dsn == "" {
		return nil, fmt.Errorf("mssql: empty dsn")
	}

	raw, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return storage.NewDB(raw, Dialect{}), nil
}

// Dialect implements storage.Dialect for Microsoft SQL Server.
type Dialect struct{}

func (Dialect) Name() string { return Kind }

func (Dialect) Rebind(q string) string { return storage.RebindNumbered(q, "@p") }

// QuoteIdent brackets an identifier, escaping closing brackets.
func (Dialect) QuoteIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}

// textCollation makes text comparisons byte-exact, the same way key maps
// compare names in Go. The server default (*_CI_AS) folds case and would
// merge names that differ only in case.
const textCollation = "COLLATE Latin1_General_100_BIN2"

// ColumnType maps logical types. Text is bounded so it can carry UNIQUE
// constraints (NVARCHAR(MAX) cannot be indexed).
func (Dialect) ColumnType(logical string) (string, error) {
	switch logical {
	case storage.TypeText:
		return "NVARCHAR(255) " + textCollation, nil
	case storage.TypeTimestamp:
		return "NVARCHAR(40) " + textCollation, nil
	case storage.TypeReal:
		return "FLOAT", nil
	case storage.TypeInteger:
		return "BIGINT", nil
	case storage.TypeFlag:
		return "SMALLINT", nil
	default:
		return "", fmt.Errorf("mssql: unknown column type %q", logical)
	}
}

func (d Dialect) PrimaryKeyDef(name string) string {
	return d.QuoteIdent(name) + " BIGINT IDENTITY(1,1) PRIMARY KEY"
}

func (Dialect) WrapCreateTable(table, defs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL\nCREATE TABLE %s (\n  %s\n)",
		strings.ReplaceAll(table, "'", "''"), table, defs,
	)
}

// InsertSQL renders either a plain bulk insert or, with conflictColumns,
//
//	INSERT INTO t (cols) SELECT v.cols FROM (VALUES (...), ...) AS v(cols)
//	WHERE NOT EXISTS (SELECT 1 FROM t WHERE t.k = v.k ...)
//
// The NOT EXISTS form does not dedupe rows inside the VALUES list; callers
// must not send conflicting rows in one statement.
func (d Dialect) InsertSQL(table string, columns []string, nrows int, conflictColumns []string) string {
	cols := storage.JoinIdents(d, columns)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(cols)
	b.WriteString(") ")

	if len(conflictColumns) == 0 {
		b.WriteString("VALUES ")
		b.WriteString(storage.ValuesList(len(columns), nrows))
		return b.String()
	}

	b.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(" FROM (VALUES ")
	b.WriteString(storage.ValuesList(len(columns), nrows))
	b.WriteString(") AS v(")
	b.WriteString(cols)
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(table)
	b.WriteString(" t WHERE ")
	for i, c := range conflictColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(d.QuoteIdent(c))
		b.WriteString(" = v.")
		b.WriteString(d.QuoteIdent(c))
	}
	b.WriteString(")")
	return b.String()
}

func (Dialect) ListTablesSQL() string {
	return `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`
}

// MaxBindParams leaves headroom under the 2100 parameter limit.
func (Dialect) MaxBindParams() int { return 2000 }

var _ storage.Dialect = Dialect{}
