package warehouse

import "database/sql"

// NormalizedRow is one source record after renaming and type coercion.
// Null fields are values that were missing or did not parse.
type NormalizedRow struct {
	RowHash string

	InvoiceID    sql.NullString
	Branch       sql.NullString
	City         sql.NullString
	CustomerType sql.NullString
	Gender       sql.NullString
	ProductLine  sql.NullString
	Date         sql.NullString // YYYY-MM-DD
	Time         sql.NullString
	Payment      sql.NullString

	Quantity sql.NullInt64

	UnitPrice             sql.NullFloat64
	Tax5Percent           sql.NullFloat64
	Total                 sql.NullFloat64
	COGS                  sql.NullFloat64
	GrossMarginPercentage sql.NullFloat64
	GrossIncome           sql.NullFloat64
	Rating                sql.NullFloat64
}

// LandingRow is a NormalizedRow as captured in the landing table.
type LandingRow struct {
	NormalizedRow
	ExtractedAt string
}

func (r LandingRow) values() []any {
	return []any{
		r.RowHash, r.InvoiceID, r.Branch, r.City, r.CustomerType, r.Gender,
		r.ProductLine, r.UnitPrice, r.Quantity, r.Tax5Percent, r.Total,
		r.Date, r.Time, r.Payment, r.COGS, r.GrossMarginPercentage,
		r.GrossIncome, r.Rating, r.ExtractedAt,
	}
}

// stagedFact is a landing row with both dimension keys resolved.
type stagedFact struct {
	RowHash      string
	InvoiceID    sql.NullString
	CategoryKey  int64
	BranchKey    int64
	TxnDate      string
	TxnTime      sql.NullString
	UnitPrice    sql.NullFloat64
	Quantity     sql.NullInt64
	Tax5Percent  sql.NullFloat64
	Total        sql.NullFloat64
	COGS         sql.NullFloat64
	GrossIncome  sql.NullFloat64
	Rating       sql.NullFloat64
	Payment      sql.NullString
	CustomerType sql.NullString
	Gender       sql.NullString
}

func (f stagedFact) values(loadedAt string) []any {
	return []any{
		f.RowHash, f.InvoiceID, f.CategoryKey, f.BranchKey, f.TxnDate, f.TxnTime,
		f.UnitPrice, f.Quantity, f.Tax5Percent, f.Total, f.COGS, f.GrossIncome,
		f.Rating, f.Payment, f.CustomerType, f.Gender, loadedAt,
	}
}
