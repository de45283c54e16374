// Package warehouse transforms the sales extract and loads the layered
// warehouse: landing capture, product line (Type-1) and branch (Type-2)
// dimensions, and the fingerprint-keyed fact table.
package warehouse

import "salesdw/internal/storage"

// Table names.
const (
	LandingTable      = "bronze_sales_raw"
	CategoryDimTable  = "silver_dim_product_line"
	BranchDimTable    = "silver_dim_branch"
	FactTable         = "silver_fact_sales"
	categoryKeyColumn = "product_line_key"
	branchKeyColumn   = "branch_key"
)

// TableNames lists every warehouse table in creation order.
func TableNames() []string {
	return []string{LandingTable, CategoryDimTable, BranchDimTable, FactTable}
}

var landingColumns = []string{
	"row_hash", "invoice_id", "branch", "city", "customer_type", "gender",
	"product_line", "unit_price", "quantity", "tax_5_percent", "total",
	"date", "time", "payment", "cogs", "gross_margin_percentage",
	"gross_income", "rating", "extracted_at",
}

var factColumns = []string{
	"row_hash", "invoice_id", categoryKeyColumn, branchKeyColumn, "txn_date", "txn_time",
	"unit_price", "quantity", "tax_5_percent", "total", "cogs", "gross_income",
	"rating", "payment", "customer_type", "gender", "loaded_at",
}

// Tables returns the warehouse schema. Dimensions precede the fact table so
// foreign keys resolve at creation time.
func Tables() []storage.TableSpec {
	text := func(name string) storage.ColumnSpec { return storage.ColumnSpec{Name: name, Type: storage.TypeText} }
	num := func(name string) storage.ColumnSpec { return storage.ColumnSpec{Name: name, Type: storage.TypeReal} }

	landing := storage.TableSpec{
		Name: LandingTable,
		Columns: []storage.ColumnSpec{
			{Name: "row_hash", Type: storage.TypeText, NotNull: true},
			text("invoice_id"), text("branch"), text("city"), text("customer_type"),
			text("gender"), text("product_line"),
			num("unit_price"),
			{Name: "quantity", Type: storage.TypeInteger},
			num("tax_5_percent"), num("total"),
			text("date"), text("time"), text("payment"),
			num("cogs"), num("gross_margin_percentage"), num("gross_income"), num("rating"),
			{Name: "extracted_at", Type: storage.TypeTimestamp, NotNull: true},
		},
	}

	category := storage.TableSpec{
		Name:       CategoryDimTable,
		PrimaryKey: &storage.PrimaryKeySpec{Name: categoryKeyColumn},
		Columns: []storage.ColumnSpec{
			{Name: "product_line_name", Type: storage.TypeText, NotNull: true},
			{Name: "created_at", Type: storage.TypeTimestamp, NotNull: true},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"product_line_name"}}},
	}

	branch := storage.TableSpec{
		Name:       BranchDimTable,
		PrimaryKey: &storage.PrimaryKeySpec{Name: branchKeyColumn},
		Columns: []storage.ColumnSpec{
			{Name: "branch_code", Type: storage.TypeText, NotNull: true},
			{Name: "city", Type: storage.TypeText, NotNull: true},
			{Name: "valid_from", Type: storage.TypeTimestamp, NotNull: true},
			{Name: "valid_to", Type: storage.TypeTimestamp},
			{Name: "is_current", Type: storage.TypeFlag, NotNull: true},
			{Name: "created_at", Type: storage.TypeTimestamp, NotNull: true},
		},
	}

	fact := storage.TableSpec{
		Name:       FactTable,
		PrimaryKey: &storage.PrimaryKeySpec{Name: "sale_key"},
		Columns: []storage.ColumnSpec{
			{Name: "row_hash", Type: storage.TypeText, NotNull: true},
			text("invoice_id"),
			{Name: categoryKeyColumn, Type: storage.TypeInteger, NotNull: true, References: CategoryDimTable + "(" + categoryKeyColumn + ")"},
			{Name: branchKeyColumn, Type: storage.TypeInteger, NotNull: true, References: BranchDimTable + "(" + branchKeyColumn + ")"},
			{Name: "txn_date", Type: storage.TypeText, NotNull: true},
			text("txn_time"),
			num("unit_price"),
			{Name: "quantity", Type: storage.TypeInteger},
			num("tax_5_percent"), num("total"), num("cogs"), num("gross_income"), num("rating"),
			text("payment"), text("customer_type"), text("gender"),
			{Name: "loaded_at", Type: storage.TypeTimestamp, NotNull: true},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"row_hash"}}},
	}

	return []storage.TableSpec{landing, category, branch, fact}
}
