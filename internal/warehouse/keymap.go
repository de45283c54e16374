package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	"salesdw/internal/storage"
)

// KeyMap resolves a dimension natural key to its surrogate key. It is built
// from store state for one load and never reused across runs.
type KeyMap map[string]int64

// Lookup returns the surrogate key for name. Null names never resolve.
func (m KeyMap) Lookup(name sql.NullString) (int64, bool) {
	if !name.Valid {
		return 0, false
	}
	k, ok := m[name.String]
	return k, ok
}

// LoadCategoryKeys maps every product line name to its key.
func LoadCategoryKeys(ctx context.Context, q storage.Querier) (KeyMap, error) {
	return loadKeyMap(ctx, q,
		"SELECT product_line_key, product_line_name FROM "+CategoryDimTable)
}

// LoadCurrentBranchKeys maps each branch code to the key of its current version.
func LoadCurrentBranchKeys(ctx context.Context, q storage.Querier) (KeyMap, error) {
	return loadKeyMap(ctx, q,
		"SELECT branch_key, branch_code FROM "+BranchDimTable+" WHERE is_current = 1")
}

func loadKeyMap(ctx context.Context, q storage.Querier, query string) (KeyMap, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("keymap: %w", err)
	}
	defer rows.Close()

	m := KeyMap{}
	for rows.Next() {
		var (
			key  int64
			name any
		)
		if err := rows.Scan(&key, &name); err != nil {
			return nil, fmt.Errorf("keymap: scan: %w", err)
		}
		m[storage.NormalizeKey(name)] = key
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("keymap: %w", err)
	}
	return m, nil
}
