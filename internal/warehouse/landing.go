package warehouse

import (
	"context"
	"fmt"
	"time"

	"salesdw/internal/storage"
)

// LoadLanding replaces the landing capture with rows, stamping each with the
// same extracted_at. It returns the number of rows inserted.
func LoadLanding(ctx context.Context, q storage.Querier, rows []NormalizedRow, extractedAt time.Time) (int64, error) {
	if _, err := q.Exec(ctx, "DELETE FROM "+LandingTable); err != nil {
		return 0, fmt.Errorf("landing: clear: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	stamp := storage.FormatTime(extractedAt)
	values := make([][]any, 0, len(rows))
	for _, r := range rows {
		values = append(values, LandingRow{NormalizedRow: r, ExtractedAt: stamp}.values())
	}

	n, err := q.InsertRows(ctx, LandingTable, landingColumns, values, nil)
	if err != nil {
		return n, fmt.Errorf("landing: insert: %w", err)
	}
	return n, nil
}
