package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"salesdw/internal/config"
	"salesdw/internal/dq"
	"salesdw/internal/extract"
	"salesdw/internal/storage"
	_ "salesdw/internal/storage/sqlite"
	"salesdw/internal/warehouse"
)

const header = "Invoice ID,Branch,City,Customer type,Gender,Product line,Unit price,Quantity,Tax 5%,Total,Date,Time,Payment,cogs,gross margin percentage,gross income,Rating\n"

func writeCSV(t *testing.T, path string, lines ...string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(header+strings.Join(lines, "\n")+"\n"), 0o644))
}

var cleanRows = []string{
	"750-67-8428,A,Yangon,Member,Female,Health and beauty,74.69,7,26.1415,548.9715,1/5/2019,13:08,Ewallet,522.83,4.761904762,26.1415,9.1",
	"226-31-3081,C,Naypyitaw,Normal,Female,Electronic accessories,15.28,5,3.82,80.22,3/8/2019,10:29,Cash,76.4,4.761904762,3.82,9.6",
	"631-41-3108,A,Yangon,Normal,Male,Home and lifestyle,46.33,7,16.2155,340.5255,3/3/2019,13:23,Credit card,324.31,4.761904762,16.2155,7.4",
}

func settings(t *testing.T) config.Settings {
	t.Helper()

	dir := t.TempDir()
	return config.Settings{
		KaggleDataset:   "faresashraf1001/supermarket-sales",
		SourceEncoding:  "utf-8",
		DataDir:         filepath.Join(dir, "data"),
		StoreKind:       "sqlite",
		SQLitePath:      filepath.Join(dir, "db", "sales.sqlite"),
		MinFactCoverage: 0.98,
	}
}

func factCount(t *testing.T, s config.Settings) int {
	t.Helper()

	db, err := storage.Open(context.Background(), storage.Config{Kind: s.StoreKind, DSN: s.StoreDSNFor()})
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(context.Background(), "SELECT COUNT(*) FROM "+warehouse.FactTable).Scan(&n))
	return n
}

func TestRun_LocalSourceFile(t *testing.T) {
	s := settings(t)
	s.SourceFile = filepath.Join(t.TempDir(), "supermarket_sales.csv")
	writeCSV(t, s.SourceFile, cleanRows...)

	r := New(s, nil)
	r.Now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, r.Run(context.Background(), Options{}))
	require.Equal(t, 3, factCount(t, s))

	// A second run over the same extract adds nothing and still validates.
	require.NoError(t, r.Run(context.Background(), Options{}))
	require.Equal(t, 3, factCount(t, s))
}

func TestRun_SkipExtractUsesRawDir(t *testing.T) {
	s := settings(t)
	writeCSV(t, filepath.Join(s.DataDir, "raw", "small.csv"), cleanRows[0])
	writeCSV(t, filepath.Join(s.DataDir, "raw", "nested", "big.csv"), cleanRows...)

	require.NoError(t, New(s, nil).Run(context.Background(), Options{SkipExtract: true}))
	require.Equal(t, 3, factCount(t, s))
}

func TestRun_SkipExtractWithoutCSV(t *testing.T) {
	s := settings(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.DataDir, "raw"), 0o755))

	err := New(s, nil).Run(context.Background(), Options{SkipExtract: true})
	require.ErrorIs(t, err, extract.ErrNoCSV)
	require.True(t, strings.HasPrefix(err.Error(), "extract: "), err.Error())
}

func TestRun_KaggleWithoutCredentials(t *testing.T) {
	s := settings(t)

	err := New(s, nil).Run(context.Background(), Options{})
	require.ErrorIs(t, err, extract.ErrMissingCredentials)
}

func TestRun_ValidateOnlyOnEmptyWarehouse(t *testing.T) {
	s := settings(t)

	err := New(s, nil).Run(context.Background(), Options{ValidateOnly: true})
	require.ErrorIs(t, err, dq.ErrMissingTables)

	var fatal *dq.FatalError
	require.ErrorAs(t, err, &fatal)
}

func TestRun_ValidationFailure(t *testing.T) {
	s := settings(t)
	s.SourceFile = filepath.Join(t.TempDir(), "sales.csv")
	writeCSV(t, s.SourceFile,
		cleanRows[0],
		"101-17-6199,A,Yangon,Normal,Male,Food and beverages,45.79,-1,16.0265,336.5565,3/13/2019,19:44,Credit card,320.53,4.761904762,16.0265,7",
	)

	err := New(s, nil).Run(context.Background(), Options{})
	var failed *dq.FailedError
	require.ErrorAs(t, err, &failed)
	require.Contains(t, err.Error(), "non-positive quantity")

	// The load itself was committed before validation ran.
	require.Equal(t, 2, factCount(t, s))
}

func TestRun_OpenStoreError(t *testing.T) {
	s := settings(t)

	r := New(s, nil)
	r.OpenStore = func(context.Context, storage.Config) (*storage.DB, error) {
		return nil, errors.New("connection refused")
	}
	err := r.Run(context.Background(), Options{})
	require.EqualError(t, err, "open store sqlite: connection refused")
}
