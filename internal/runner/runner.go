// Package runner executes one warehouse run end to end:
// extract, read, load (single transaction) and validate.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"salesdw/internal/config"
	"salesdw/internal/dq"
	"salesdw/internal/extract"
	"salesdw/internal/logging"
	"salesdw/internal/metrics"
	"salesdw/internal/parser/csv"
	"salesdw/internal/storage"
	"salesdw/internal/warehouse"
)

// Options select the parts of a run to execute.
type Options struct {
	// ValidateOnly skips extract and load and validates the existing warehouse.
	ValidateOnly bool

	// SkipExtract uses SOURCE_FILE, or the largest CSV already under
	// DATA_DIR/raw, without any network access.
	SkipExtract bool
}

// Runner holds the resolved settings and the seams used by tests.
type Runner struct {
	Settings config.Settings
	Logger   logging.Logger

	// HTTPClient is used for downloads. Nil selects the extractor default.
	HTTPClient *http.Client

	// OpenStore opens the warehouse. Defaults to storage.Open.
	OpenStore func(ctx context.Context, cfg storage.Config) (*storage.DB, error)

	// Now is the load clock. Defaults to time.Now.
	Now func() time.Time
}

// New returns a Runner for s.
func New(s config.Settings, log logging.Logger) *Runner {
	return &Runner{Settings: s, Logger: log}
}

// Run executes the run selected by opt. Validation failures are returned as
// *dq.FailedError or *dq.FatalError (wrapped).
func (r *Runner) Run(ctx context.Context, opt Options) (err error) {
	log := r.logger()
	start := time.Now()
	defer func() { metrics.RecordStep("run", err, time.Since(start)) }()

	open := r.OpenStore
	if open == nil {
		open = storage.Open
	}
	db, err := open(ctx, storage.Config{Kind: r.Settings.StoreKind, DSN: r.Settings.StoreDSNFor()})
	if err != nil {
		return fmt.Errorf("open store %s: %w", r.Settings.StoreKind, err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warnf("close store: %v", cerr)
		}
	}()

	if !opt.ValidateOnly {
		if err := r.load(ctx, db, opt, log); err != nil {
			return err
		}
	}

	cfg := dq.DefaultConfig()
	cfg.MinFactCoverage = r.Settings.MinFactCoverage
	cfg.FailOnWarnings = r.Settings.FailOnWarnings

	err = step("validate", func() error {
		v := &dq.Validator{Q: db, Logger: log, Config: cfg}
		_, err := v.Validate(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

func (r *Runner) load(ctx context.Context, db *storage.DB, opt Options, log logging.Logger) error {
	ex := extract.New(extract.Config{
		Dataset:    r.Settings.KaggleDataset,
		Username:   r.Settings.KaggleUsername,
		Key:        r.Settings.KaggleKey,
		SourceURL:  r.Settings.SourceURL,
		SourceFile: r.Settings.SourceFile,
		DataDir:    r.Settings.DataDir,
	}, r.HTTPClient, log)

	var path string
	err := step("extract", func() error {
		var err error
		switch {
		case !opt.SkipExtract || strings.TrimSpace(r.Settings.SourceFile) != "":
			path, err = ex.Extract(ctx)
		default:
			path, err = extract.FindLargestCSV(ex.RawDir())
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	log.Infof("source csv: %s", path)

	var tbl *csv.Table
	err = step("read", func() error {
		var err error
		tbl, err = csv.ReadFile(ctx, path, csv.Options{Encoding: r.Settings.SourceEncoding})
		return err
	})
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	log.Infof("read %d records, %d columns", len(tbl.Records), len(tbl.Header))

	p := &warehouse.Pipeline{DB: db, Logger: log, Now: r.Now}
	if _, err := p.Run(ctx, tbl); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if r.Settings.StoreKind == "sqlite" {
		log.Infof("pipeline complete, sqlite warehouse at %s", r.Settings.SQLitePath)
	} else {
		log.Infof("pipeline complete, store=%s", r.Settings.StoreKind)
	}
	return nil
}

func (r *Runner) logger() logging.Logger {
	if r.Logger == nil {
		return logging.Nop()
	}
	return r.Logger
}

func step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, err, time.Since(start))
	return err
}
