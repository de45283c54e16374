// The schema types live here so both the warehouse and the backend packages
// can import them without circular deps.
package storage

// Logical column types. Each Dialect maps them to a concrete SQL type.
const (
	TypeText      = "text"
	TypeReal      = "real"
	TypeInteger   = "integer"
	TypeTimestamp = "timestamp"
	TypeFlag      = "flag"
)

type TableSpec struct {
	Name        string
	PrimaryKey  *PrimaryKeySpec
	Columns     []ColumnSpec
	Constraints []ConstraintSpec
}

// PrimaryKeySpec describes a generated surrogate key column.
type PrimaryKeySpec struct {
	Name string
}

type ColumnSpec struct {
	Name string
	Type string

	// References is "table(column)"; empty means no foreign key.
	References string
	NotNull    bool
}

type ConstraintSpec struct {
	Kind    string // "unique"
	Columns []string
}

