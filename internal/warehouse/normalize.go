package warehouse

import (
	"database/sql"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"salesdw/internal/logging"
	"salesdw/internal/parser/csv"
)

// sourceLabels maps extract header labels to canonical column names.
var sourceLabels = map[string]string{
	"Invoice ID":              "invoice_id",
	"Branch":                  "branch",
	"City":                    "city",
	"Customer type":           "customer_type",
	"Gender":                  "gender",
	"Product line":            "product_line",
	"Unit price":              "unit_price",
	"Quantity":                "quantity",
	"Tax 5%":                  "tax_5_percent",
	"Total":                   "total",
	"Sales":                   "total",
	"Date":                    "date",
	"Time":                    "time",
	"Payment":                 "payment",
	"cogs":                    "cogs",
	"gross margin percentage": "gross_margin_percentage",
	"gross income":            "gross_income",
	"Rating":                  "rating",
}

// canonicalColumns is every business column of a landing row, in landing order.
var canonicalColumns = landingColumns[1 : len(landingColumns)-1]

var dateLayouts = []string{
	"1/2/2006",
	"01/02/2006",
	"2006-01-02",
	"2006/01/02",
	"1/2/06",
	"2-Jan-2006",
	"2-Jan-06",
	"Jan 2, 2006",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// DateLayout is the rendered form of landing dates and fact txn_date.
const DateLayout = "2006-01-02"

// NormalizeStats counts values that were present but could not be coerced.
type NormalizeStats struct {
	Rows        int
	BadDates    int
	BadNumbers  int
	BadQuantity int
}

// Result is the output of Normalize.
type Result struct {
	Rows           []NormalizedRow
	MissingColumns []string
	Stats          NormalizeStats
}

// Normalize renames the extract columns, coerces types and fingerprints every
// record. Missing canonical columns are reported, never fatal.
func Normalize(t *csv.Table, log logging.Logger) Result {
	pos := columnPositions(t.Header)

	var res Result
	for _, c := range canonicalColumns {
		if _, ok := pos[c]; !ok {
			res.MissingColumns = append(res.MissingColumns, c)
		}
	}
	if len(res.MissingColumns) > 0 {
		log.Warnf("some expected columns are missing: %s", strings.Join(res.MissingColumns, ", "))
	}

	res.Rows = make([]NormalizedRow, 0, len(t.Records))
	for _, rec := range t.Records {
		get := func(col string) string {
			i, ok := pos[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return rec[i]
		}

		var row NormalizedRow
		row.InvoiceID = normText(get("invoice_id"))
		row.Branch = normText(get("branch"))
		row.City = normText(get("city"))
		row.CustomerType = normText(get("customer_type"))
		row.Gender = normText(get("gender"))
		row.ProductLine = normText(get("product_line"))
		row.Time = normText(get("time"))
		row.Payment = normText(get("payment"))

		row.Date = parseDate(get("date"))
		if !row.Date.Valid && strings.TrimSpace(get("date")) != "" {
			res.Stats.BadDates++
		}

		measures := []struct {
			col string
			dst *sql.NullFloat64
		}{
			{"unit_price", &row.UnitPrice},
			{"tax_5_percent", &row.Tax5Percent},
			{"total", &row.Total},
			{"cogs", &row.COGS},
			{"gross_margin_percentage", &row.GrossMarginPercentage},
			{"gross_income", &row.GrossIncome},
			{"rating", &row.Rating},
		}
		for _, m := range measures {
			raw := get(m.col)
			*m.dst = parseFloat(raw)
			if !m.dst.Valid && strings.TrimSpace(raw) != "" {
				res.Stats.BadNumbers++
			}
		}

		row.Quantity = parseQuantity(get("quantity"))
		if !row.Quantity.Valid && strings.TrimSpace(get("quantity")) != "" {
			res.Stats.BadQuantity++
		}

		row.RowHash = Fingerprint(
			row.InvoiceID.String,
			row.Branch.String,
			row.ProductLine.String,
			row.Date.String,
			row.Time.String,
			amountKey(row.Total),
		)
		res.Rows = append(res.Rows, row)
	}
	res.Stats.Rows = len(res.Rows)
	return res
}

// columnPositions resolves canonical names to record indexes. Canonical names
// are accepted as labels too; the first column mapping to a name wins.
func columnPositions(header []string) map[string]int {
	known := make(map[string]bool, len(canonicalColumns))
	for _, c := range canonicalColumns {
		known[c] = true
	}

	pos := make(map[string]int, len(canonicalColumns))
	for i, h := range header {
		label := strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		name, ok := sourceLabels[label]
		if !ok && known[label] {
			name, ok = label, true
		}
		if !ok {
			continue
		}
		if _, seen := pos[name]; !seen {
			pos[name] = i
		}
	}
	return pos
}

func normText(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: norm.NFC.String(s), Valid: true}
}

func parseDate(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return sql.NullString{String: t.Format(DateLayout), Valid: true}
		}
	}
	return sql.NullString{}
}

// amountKey renders a parsed amount in one canonical form so that 100 and
// 100.0 fingerprint alike. Null is the empty string.
func amountKey(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

func parseFloat(s string) sql.NullFloat64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullFloat64{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func parseQuantity(s string) sql.NullInt64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullInt64{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sql.NullInt64{Int64: n, Valid: true}
	}
	f := parseFloat(s)
	if !f.Valid || f.Float64 != math.Trunc(f.Float64) || math.Abs(f.Float64) > 1<<53 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(f.Float64), Valid: true}
}
