package warehouse

import (
	"context"
	"database/sql"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"salesdw/internal/parser/csv"
	"salesdw/internal/storage"
	"salesdw/internal/storage/sqlite"
)

func openWarehouse(t *testing.T) *storage.DB {
	t.Helper()

	db, err := sqlite.Open(context.Background(), storage.Config{
		Kind: sqlite.Kind,
		DSN:  filepath.Join(t.TempDir(), "warehouse.sqlite"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fixedClock returns a clock that advances one hour per call.
func fixedClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		t := next
		next = next.Add(time.Hour)
		return t
	}
}

func table(records ...[]string) *csv.Table {
	return &csv.Table{Header: salesHeader, Records: records}
}

func runPipeline(t *testing.T, db *storage.DB, now func() time.Time, tbl *csv.Table) RunResult {
	t.Helper()

	p := &Pipeline{DB: db, Logger: &recLogger{}, Now: now}
	res, err := p.Run(context.Background(), tbl)
	require.NoError(t, err)
	return res
}

func count(t *testing.T, db *storage.DB, tbl string) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+tbl).Scan(&n))
	return n
}

func factHashes(t *testing.T, db *storage.DB) []string {
	t.Helper()

	rows, err := db.Query(context.Background(), "SELECT row_hash FROM "+FactTable)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		require.NoError(t, rows.Scan(&h))
		out = append(out, h)
	}
	require.NoError(t, rows.Err())
	sort.Strings(out)
	return out
}

type branchVersion struct {
	Key       int64
	Code      string
	City      string
	ValidFrom string
	ValidTo   sql.NullString
	IsCurrent int
}

func branchVersions(t *testing.T, db *storage.DB) []branchVersion {
	t.Helper()

	rows, err := db.Query(context.Background(),
		"SELECT branch_key, branch_code, city, valid_from, valid_to, is_current FROM "+BranchDimTable+" ORDER BY branch_key")
	require.NoError(t, err)
	defer rows.Close()

	var out []branchVersion
	for rows.Next() {
		var v branchVersion
		require.NoError(t, rows.Scan(&v.Key, &v.Code, &v.City, &v.ValidFrom, &v.ValidTo, &v.IsCurrent))
		out = append(out, v)
	}
	require.NoError(t, rows.Err())
	return out
}

// requireSCD2 checks one current version per code and that every closed
// version ends where another version of the same code starts.
func requireSCD2(t *testing.T, versions []branchVersion) {
	t.Helper()

	current := map[string]int{}
	starts := map[string]map[string]bool{}
	for _, v := range versions {
		current[v.Code] += v.IsCurrent
		if starts[v.Code] == nil {
			starts[v.Code] = map[string]bool{}
		}
		starts[v.Code][v.ValidFrom] = true
	}
	for code, n := range current {
		require.Equalf(t, 1, n, "branch %s current versions", code)
	}
	for _, v := range versions {
		if v.IsCurrent == 1 {
			require.False(t, v.ValidTo.Valid, "current version %d has valid_to", v.Key)
			continue
		}
		require.True(t, v.ValidTo.Valid, "closed version %d has no valid_to", v.Key)
		require.True(t, starts[v.Code][v.ValidTo.String], "closed version %d valid_to %s matches no valid_from", v.Key, v.ValidTo.String)
	}
}

func TestPipeline_SingleSale(t *testing.T) {
	db := openWarehouse(t)

	res := runPipeline(t, db, fixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		table(sale("101", "A", "Yangon", "Health and beauty", "2019-01-05", "100.0")))

	require.EqualValues(t, 1, res.Landed)
	require.EqualValues(t, 1, res.CategoriesInserted)
	require.Equal(t, BranchStats{Inserted: 1}, res.Branches)
	require.EqualValues(t, 1, res.Facts.Inserted)

	ctx := context.Background()
	var catKey, brKey int64
	require.NoError(t, db.QueryRow(ctx,
		"SELECT product_line_key FROM "+CategoryDimTable+" WHERE product_line_name = ?", "Health and beauty").Scan(&catKey))
	require.NoError(t, db.QueryRow(ctx,
		"SELECT branch_key FROM "+BranchDimTable+" WHERE branch_code = ? AND city = ? AND is_current = 1", "A", "Yangon").Scan(&brKey))

	require.Equal(t, 1, count(t, db, CategoryDimTable))
	require.Equal(t, 1, count(t, db, BranchDimTable))
	require.Equal(t, 1, count(t, db, FactTable))

	var (
		gotCat, gotBr   int64
		txnDate, loaded string
		total           float64
	)
	require.NoError(t, db.QueryRow(ctx,
		"SELECT product_line_key, branch_key, txn_date, total, loaded_at FROM "+FactTable).
		Scan(&gotCat, &gotBr, &txnDate, &total, &loaded))
	require.Equal(t, catKey, gotCat)
	require.Equal(t, brKey, gotBr)
	require.Equal(t, "2019-01-05", txnDate)
	require.Equal(t, 100.0, total)
	_, err := time.Parse(storage.TimestampLayout, loaded)
	require.NoError(t, err)
}

func TestPipeline_RerunIsIdempotent(t *testing.T) {
	db := openWarehouse(t)
	clock := fixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	tbl := table(
		sale("1", "A", "Yangon", "Health and beauty", "1/5/2019", "10.5"),
		sale("2", "B", "Mandalay", "Sports and travel", "3/8/2019", "20"),
		sale("3", "C", "Naypyitaw", "Food and beverages", "2/27/2019", "30.25"),
	)

	first := runPipeline(t, db, clock, tbl)
	require.EqualValues(t, 3, first.Facts.Inserted)
	hashes := factHashes(t, db)

	second := runPipeline(t, db, clock, tbl)
	require.EqualValues(t, 0, second.Facts.Inserted)
	require.EqualValues(t, 3, second.Facts.AlreadyLoaded)
	require.EqualValues(t, 0, second.CategoriesInserted)
	require.Equal(t, BranchStats{Unchanged: 3}, second.Branches)

	require.Equal(t, hashes, factHashes(t, db))
	require.Equal(t, 3, count(t, db, LandingTable), "landing is a full refresh")
	require.Equal(t, 3, count(t, db, CategoryDimTable))
	require.Equal(t, 3, count(t, db, BranchDimTable))
}

func TestPipeline_TotalFormattingDoesNotDuplicate(t *testing.T) {
	db := openWarehouse(t)
	clock := fixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	first := runPipeline(t, db, clock, table(sale("5", "A", "Yangon", "Health and beauty", "1/5/2019", "100")))
	require.EqualValues(t, 1, first.Facts.Inserted)

	second := runPipeline(t, db, clock, table(sale("5", "A", "Yangon", "Health and beauty", "2019-01-05 13:08:00", "100.0")))
	require.EqualValues(t, 0, second.Facts.Inserted)
	require.EqualValues(t, 1, second.Facts.AlreadyLoaded)
	require.Equal(t, 1, count(t, db, FactTable))
}

func TestPipeline_FingerprintsUnique(t *testing.T) {
	db := openWarehouse(t)

	dup := sale("7", "A", "Yangon", "Home and lifestyle", "2019-01-05", "42")
	res := runPipeline(t, db, nil, table(dup, dup, sale("8", "A", "Yangon", "Home and lifestyle", "2019-01-05", "42")))

	require.EqualValues(t, 3, res.Landed)
	require.EqualValues(t, 1, res.Facts.DuplicateInBatch)
	require.EqualValues(t, 2, res.Facts.Inserted)

	hashes := factHashes(t, db)
	seen := map[string]bool{}
	for _, h := range hashes {
		require.False(t, seen[h], "duplicate fingerprint %s", h)
		seen[h] = true
	}
}

func TestPipeline_BranchCityChangeAcrossRuns(t *testing.T) {
	db := openWarehouse(t)

	t1 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	t2 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	runPipeline(t, db, func() time.Time { return t1 },
		table(sale("1", "A", "Yangon", "Health and beauty", "2019-01-05", "1")))
	res := runPipeline(t, db, func() time.Time { return t2 },
		table(sale("2", "A", "Naypyitaw", "Health and beauty", "2019-01-06", "2")))

	require.Equal(t, BranchStats{Inserted: 1, Closed: 1}, res.Branches)

	versions := branchVersions(t, db)
	require.Len(t, versions, 2)

	old, cur := versions[0], versions[1]
	require.Equal(t, "Yangon", old.City)
	require.Equal(t, 0, old.IsCurrent)
	require.True(t, old.ValidTo.Valid)
	require.Equal(t, storage.FormatTime(t2), old.ValidTo.String)
	require.Equal(t, storage.FormatTime(t1), old.ValidFrom)

	require.Equal(t, "Naypyitaw", cur.City)
	require.Equal(t, 1, cur.IsCurrent)
	require.False(t, cur.ValidTo.Valid)
	require.Equal(t, storage.FormatTime(t2), cur.ValidFrom)

	requireSCD2(t, versions)

	// The second sale references the new current version.
	var bk int64
	require.NoError(t, db.QueryRow(context.Background(),
		"SELECT branch_key FROM "+FactTable+" WHERE invoice_id = ?", "2").Scan(&bk))
	require.Equal(t, cur.Key, bk)
}

func TestPipeline_SeveralCitiesInOneRunUseLexicalOrder(t *testing.T) {
	db := openWarehouse(t)

	res := runPipeline(t, db, fixedClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), table(
		sale("1", "A", "Yangon", "Health and beauty", "2019-01-05", "1"),
		sale("2", "A", "Mandalay", "Health and beauty", "2019-01-05", "2"),
	))
	require.Equal(t, BranchStats{Inserted: 2, Closed: 1}, res.Branches)

	versions := branchVersions(t, db)
	require.Len(t, versions, 2)
	require.Equal(t, "Mandalay", versions[0].City)
	require.Equal(t, 0, versions[0].IsCurrent)
	require.Equal(t, "Yangon", versions[1].City)
	require.Equal(t, 1, versions[1].IsCurrent)
	requireSCD2(t, versions)

	// Both sales resolve to the current version at load time.
	require.EqualValues(t, 2, res.Facts.Inserted)
}

func TestPipeline_SkipsRowsWithoutDimension(t *testing.T) {
	db := openWarehouse(t)
	log := &recLogger{}

	p := &Pipeline{DB: db, Logger: log}
	res, err := p.Run(context.Background(), table(
		sale("1", "A", "Yangon", "", "2019-01-05", "1"),
		sale("2", "A", "Yangon", "Electronic accessories", "2019-01-05", "2"),
		sale("3", "A", "Yangon", "Electronic accessories", "", "3"),
	))
	require.NoError(t, err)

	require.EqualValues(t, 3, res.Landed)
	require.EqualValues(t, 2, res.Facts.Staged, "undated rows are not staged")
	require.EqualValues(t, 1, res.Facts.SkippedMissingDim)
	require.EqualValues(t, 1, res.Facts.Inserted)
	require.Equal(t, 1, count(t, db, FactTable))

	var warned bool
	for _, w := range log.warns {
		if w == "1 landing rows skipped: missing product line or branch dimension key" {
			warned = true
		}
	}
	require.True(t, warned, "warns=%v", log.warns)
}

func TestPipeline_SupersetAddsExactlyNewFacts(t *testing.T) {
	db := openWarehouse(t)
	clock := fixedClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	base := [][]string{
		sale("1", "A", "Yangon", "Health and beauty", "2019-01-05", "1"),
		sale("2", "B", "Mandalay", "Sports and travel", "2019-01-06", "2"),
		sale("3", "C", "Naypyitaw", "Food and beverages", "2019-01-07", "3"),
	}
	runPipeline(t, db, clock, table(base...))
	before := count(t, db, FactTable)

	superset := append(append([][]string{}, base...),
		sale("4", "A", "Yangon", "Health and beauty", "2019-01-08", "4"),
		sale("5", "B", "Mandalay", "Sports and travel", "2019-01-09", "5"),
	)
	res := runPipeline(t, db, clock, table(superset...))

	require.Equal(t, before+2, count(t, db, FactTable))
	require.EqualValues(t, 2, res.Facts.Inserted)
	require.EqualValues(t, 3, res.Facts.AlreadyLoaded)
}

func TestPipeline_FailedRunCommitsNothing(t *testing.T) {
	db := openWarehouse(t)
	ctx := context.Background()

	// A landing table with an incompatible shape makes the landing insert fail.
	_, err := db.Exec(ctx, "CREATE TABLE "+LandingTable+" (row_hash TEXT NOT NULL)")
	require.NoError(t, err)

	p := &Pipeline{DB: db, Logger: &recLogger{}}
	_, err = p.Run(ctx, table(sale("1", "A", "Yangon", "Health and beauty", "2019-01-05", "1")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "landing: insert")

	tables, err := storage.ListTables(ctx, db)
	require.NoError(t, err)
	require.True(t, tables[LandingTable])
	require.False(t, tables[FactTable], "DDL of the failed run must be rolled back")
	require.Equal(t, 0, count(t, db, LandingTable))
}

func TestPipeline_RequiresDB(t *testing.T) {
	t.Parallel()

	_, err := (&Pipeline{}).Run(context.Background(), table())
	require.Error(t, err)
}
