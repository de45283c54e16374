package warehouse

import (
	"context"
	"fmt"
	"time"

	"salesdw/internal/logging"
	"salesdw/internal/storage"
)

// FactStats counts the outcome of one fact load.
type FactStats struct {
	Staged            int64 // landing rows with a date
	SkippedMissingDim int64
	DuplicateInBatch  int64
	Inserted          int64
	AlreadyLoaded     int64
}

// LoadFacts resolves dimension keys for every dated landing row and inserts
// the rows whose fingerprint is not yet in the fact table.
func LoadFacts(ctx context.Context, q storage.Querier, log logging.Logger, now time.Time) (FactStats, error) {
	var st FactStats

	categories, err := LoadCategoryKeys(ctx, q)
	if err != nil {
		return st, fmt.Errorf("fact: %w", err)
	}
	branches, err := LoadCurrentBranchKeys(ctx, q)
	if err != nil {
		return st, fmt.Errorf("fact: %w", err)
	}

	staged, err := stageFacts(ctx, q, categories, branches, &st)
	if err != nil {
		return st, fmt.Errorf("fact: %w", err)
	}
	if st.SkippedMissingDim > 0 {
		log.Warnf("%d landing rows skipped: missing product line or branch dimension key", st.SkippedMissingDim)
	}
	if st.DuplicateInBatch > 0 {
		log.Warnf("%d landing rows repeat a fingerprint already staged in this run", st.DuplicateInBatch)
	}

	loadedAt := storage.FormatTime(now)
	values := make([][]any, 0, len(staged))
	for _, f := range staged {
		values = append(values, f.values(loadedAt))
	}

	n, err := q.InsertRows(ctx, FactTable, factColumns, values, []string{"row_hash"})
	if err != nil {
		return st, fmt.Errorf("fact: insert: %w", err)
	}
	st.Inserted = n
	st.AlreadyLoaded = int64(len(staged)) - n
	return st, nil
}

func stageFacts(ctx context.Context, q storage.Querier, categories, branches KeyMap, st *FactStats) ([]stagedFact, error) {
	rows, err := q.Query(ctx, `SELECT row_hash, invoice_id, product_line, branch, date, time,
  unit_price, quantity, tax_5_percent, total, cogs, gross_income, rating,
  payment, customer_type, gender
FROM `+LandingTable+`
WHERE date IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[string]bool{}
	var out []stagedFact
	for rows.Next() {
		var (
			f    stagedFact
			lr   NormalizedRow
			date string
		)
		if err := rows.Scan(
			&f.RowHash, &f.InvoiceID, &lr.ProductLine, &lr.Branch, &date, &f.TxnTime,
			&f.UnitPrice, &f.Quantity, &f.Tax5Percent, &f.Total, &f.COGS, &f.GrossIncome, &f.Rating,
			&f.Payment, &f.CustomerType, &f.Gender,
		); err != nil {
			return nil, fmt.Errorf("scan landing: %w", err)
		}
		st.Staged++

		ck, okC := categories.Lookup(lr.ProductLine)
		bk, okB := branches.Lookup(lr.Branch)
		if !okC || !okB {
			st.SkippedMissingDim++
			continue
		}
		if seen[f.RowHash] {
			st.DuplicateInBatch++
			continue
		}
		seen[f.RowHash] = true

		f.CategoryKey, f.BranchKey, f.TxnDate = ck, bk, date
		out = append(out, f)
	}
	return out, rows.Err()
}
