package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salesdw/internal/logging"
	"salesdw/internal/metrics"
	"salesdw/internal/parser/csv"
	"salesdw/internal/storage"
)

// Pipeline loads one extract into the warehouse inside a single transaction:
// landing, product line dimension, branch dimension, facts, commit.
type Pipeline struct {
	DB     *storage.DB
	Logger logging.Logger

	// Now is the run clock. It is read once per stage. Defaults to time.Now.
	Now func() time.Time
}

// RunResult summarizes a committed run.
type RunResult struct {
	Normalize          NormalizeStats
	MissingColumns     []string
	Landed             int64
	CategoriesInserted int64
	Branches           BranchStats
	Facts              FactStats
}

// Run normalizes t and loads it. Nothing is committed unless every stage
// succeeds.
func (p *Pipeline) Run(ctx context.Context, t *csv.Table) (res RunResult, err error) {
	if p.DB == nil {
		return res, fmt.Errorf("pipeline: DB is required")
	}
	if t == nil {
		return res, fmt.Errorf("pipeline: nil table")
	}
	log := p.logger()

	normStart := time.Now()
	norm := Normalize(t, log)
	res.Normalize, res.MissingColumns = norm.Stats, norm.MissingColumns
	metrics.RecordStep("normalize", nil, time.Since(normStart))
	log.Infof("stage=normalize ok rows=%d bad_dates=%d bad_numbers=%d bad_quantity=%d duration=%s",
		norm.Stats.Rows, norm.Stats.BadDates, norm.Stats.BadNumbers, norm.Stats.BadQuantity, durMS(normStart))

	tx, err := p.DB.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("pipeline: begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("pipeline: rollback: %w", rbErr))
			}
		}
	}()

	if err = p.stage(log, "ddl", func() (string, error) {
		return fmt.Sprintf("tables=%d", len(Tables())), storage.EnsureTables(ctx, tx, Tables())
	}); err != nil {
		return res, err
	}

	if err = p.stage(log, "landing", func() (string, error) {
		n, err := LoadLanding(ctx, tx, norm.Rows, p.now())
		res.Landed = n
		metrics.RecordRecords("landed", n)
		return fmt.Sprintf("rows=%d", n), err
	}); err != nil {
		return res, err
	}

	if err = p.stage(log, "dim_product_line", func() (string, error) {
		n, err := EnsureCategories(ctx, tx, p.now())
		res.CategoriesInserted = n
		metrics.RecordRecords("category_inserted", n)
		return fmt.Sprintf("inserted=%d", n), err
	}); err != nil {
		return res, err
	}

	if err = p.stage(log, "dim_branch", func() (string, error) {
		st, err := UpsertBranches(ctx, tx, log, p.now())
		res.Branches = st
		metrics.RecordRecords("branch_version_inserted", int64(st.Inserted))
		metrics.RecordRecords("branch_version_closed", int64(st.Closed))
		return fmt.Sprintf("inserted=%d closed=%d unchanged=%d", st.Inserted, st.Closed, st.Unchanged), err
	}); err != nil {
		return res, err
	}

	if err = p.stage(log, "fact", func() (string, error) {
		st, err := LoadFacts(ctx, tx, log, p.now())
		res.Facts = st
		metrics.RecordRecords("fact_inserted", st.Inserted)
		metrics.RecordRecords("fact_skipped_missing_dim", st.SkippedMissingDim)
		metrics.RecordRecords("fact_duplicate_in_batch", st.DuplicateInBatch)
		return fmt.Sprintf("staged=%d inserted=%d already_loaded=%d skipped_missing_dim=%d duplicate_in_batch=%d",
			st.Staged, st.Inserted, st.AlreadyLoaded, st.SkippedMissingDim, st.DuplicateInBatch), err
	}); err != nil {
		return res, err
	}

	if err = tx.Commit(); err != nil {
		return res, fmt.Errorf("pipeline: commit: %w", err)
	}
	return res, nil
}

// stage runs fn, logs its outcome and records its metrics.
func (p *Pipeline) stage(log logging.Logger, name string, fn func() (string, error)) error {
	start := time.Now()
	detail, err := fn()
	metrics.RecordStep(name, err, time.Since(start))
	if err != nil {
		log.Errorf("stage=%s status=error duration=%s err=%v", name, durMS(start), err)
		return err
	}
	log.Infof("stage=%s ok %s duration=%s", name, detail, durMS(start))
	return nil
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now().UTC()
	}
	return p.Now().UTC()
}

func (p *Pipeline) logger() logging.Logger {
	if p.Logger == nil {
		return logging.Nop()
	}
	return p.Logger
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
