package warehouse

import (
	"context"
	"fmt"
	"sort"
	"time"

	"salesdw/internal/logging"
	"salesdw/internal/storage"
)

// EnsureCategories inserts every landing product line that has no dimension
// row yet. Existing rows are never modified. It returns the number inserted.
func EnsureCategories(ctx context.Context, q storage.Querier, now time.Time) (int64, error) {
	existing, err := LoadCategoryKeys(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("dim product_line: %w", err)
	}

	names, err := distinctStrings(ctx, q,
		"SELECT DISTINCT product_line FROM "+LandingTable+" WHERE product_line IS NOT NULL")
	if err != nil {
		return 0, fmt.Errorf("dim product_line: %w", err)
	}

	stamp := storage.FormatTime(now)
	var missing [][]any
	for _, name := range names {
		if _, ok := existing[name]; ok {
			continue
		}
		existing[name] = 0
		missing = append(missing, []any{name, stamp})
	}

	n, err := q.InsertRows(ctx, CategoryDimTable,
		[]string{"product_line_name", "created_at"}, missing, []string{"product_line_name"})
	if err != nil {
		return n, fmt.Errorf("dim product_line: insert: %w", err)
	}
	return n, nil
}

// BranchStats counts the outcome of one Type-2 pass.
type BranchStats struct {
	Inserted  int // new current versions, first sightings included
	Closed    int
	Unchanged int
}

type branchCity struct {
	branch string
	city   string
}

// UpsertBranches keeps the branch dimension's city history. Distinct
// (branch, city) landing pairs are applied in byte order of branch then city:
// an unseen branch gets a first version, a branch whose current city differs
// has its current version closed at now and a new current version opened at
// now.
func UpsertBranches(ctx context.Context, q storage.Querier, log logging.Logger, now time.Time) (BranchStats, error) {
	var st BranchStats

	pairs, err := distinctBranchCities(ctx, q)
	if err != nil {
		return st, fmt.Errorf("dim branch: %w", err)
	}

	stamp := storage.FormatTime(now)
	for _, p := range pairs {
		key, city, found, err := currentBranch(ctx, q, p.branch)
		if err != nil {
			return st, fmt.Errorf("dim branch %s: %w", p.branch, err)
		}

		if found && city == p.city {
			st.Unchanged++
			continue
		}

		if found {
			if _, err := q.Exec(ctx,
				"UPDATE "+BranchDimTable+" SET valid_to = ?, is_current = 0 WHERE branch_key = ?",
				stamp, key); err != nil {
				return st, fmt.Errorf("dim branch %s: close: %w", p.branch, err)
			}
			st.Closed++
			log.Infof("branch %s changed city %s -> %s", p.branch, city, p.city)
		}

		if _, err := q.InsertRows(ctx, BranchDimTable,
			[]string{"branch_code", "city", "valid_from", "valid_to", "is_current", "created_at"},
			[][]any{{p.branch, p.city, stamp, nil, 1, stamp}}, nil); err != nil {
			return st, fmt.Errorf("dim branch %s: insert: %w", p.branch, err)
		}
		st.Inserted++
	}
	return st, nil
}

// distinctBranchCities reads every pair before any write and sorts in Go so
// the order does not depend on the backend's collation.
func distinctBranchCities(ctx context.Context, q storage.Querier) ([]branchCity, error) {
	rows, err := q.Query(ctx,
		"SELECT DISTINCT branch, city FROM "+LandingTable+" WHERE branch IS NOT NULL AND city IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []branchCity
	for rows.Next() {
		var b, c any
		if err := rows.Scan(&b, &c); err != nil {
			return nil, err
		}
		out = append(out, branchCity{branch: storage.NormalizeKey(b), city: storage.NormalizeKey(c)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].branch != out[j].branch {
			return out[i].branch < out[j].branch
		}
		return out[i].city < out[j].city
	})
	return out, nil
}

// currentBranch returns the current version of code. With several current
// rows, the lowest key wins; the validator reports that state.
func currentBranch(ctx context.Context, q storage.Querier, code string) (key int64, city string, found bool, err error) {
	rows, err := q.Query(ctx,
		"SELECT branch_key, city FROM "+BranchDimTable+" WHERE branch_code = ? AND is_current = 1 ORDER BY branch_key",
		code)
	if err != nil {
		return 0, "", false, err
	}
	defer rows.Close()

	if rows.Next() {
		var c any
		if err := rows.Scan(&key, &c); err != nil {
			return 0, "", false, err
		}
		city, found = storage.NormalizeKey(c), true
	}
	return key, city, found, rows.Err()
}

func distinctStrings(ctx context.Context, q storage.Querier, query string) ([]string, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, storage.NormalizeKey(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
