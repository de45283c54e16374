package storage

import (
	"fmt"
	"strings"
)

// BuildCreateTableSQL renders an idempotent CREATE TABLE statement for t.
//
// The column list is rendered in declaration order:
//   - generated primary key first (when PrimaryKey is set)
//   - configured columns, with NOT NULL and REFERENCES as declared
//   - UNIQUE table constraints
//
// The dialect decides the concrete column types and how "create if missing"
// is expressed.
//
// Errors:
//   - empty table name
//   - unknown logical column type
//   - unsupported constraint kind
func BuildCreateTableSQL(d Dialect, t TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		parts = append(parts, d.PrimaryKeyDef(t.PrimaryKey.Name))
	}

	for _, c := range t.Columns {
		typ, err := d.ColumnType(c.Type)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		col := d.QuoteIdent(c.Name) + " " + typ
		if c.NotNull {
			col += " NOT NULL"
		}
		if c.References != "" {
			col += " REFERENCES " + c.References
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		cols := make([]string, 0, len(con.Columns))
		for _, c := range con.Columns {
			cols = append(cols, d.QuoteIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return d.WrapCreateTable(t.Name, strings.Join(parts, ",\n  ")), nil
}

// ValuesList renders "(?, ?), (?, ?)" for nrows rows of ncols values.
func ValuesList(ncols, nrows int) string {
	one := "(" + strings.TrimSuffix(strings.Repeat("?, ", ncols), ", ") + ")"
	var b strings.Builder
	b.Grow((len(one) + 2) * nrows)
	for i := 0; i < nrows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(one)
	}
	return b.String()
}

// JoinIdents quotes and joins column names with ", ".
func JoinIdents(d Dialect, columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, d.QuoteIdent(c))
	}
	return strings.Join(out, ", ")
}
