// Package dq runs data-quality checks over a loaded warehouse.
//
// The validator reads only persisted state. Structural problems (missing
// tables, empty tables, duplicate fingerprints) abort with a *FatalError;
// everything else is collected into a Report and turned into a *FailedError
// when it contains errors.
package dq

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"salesdw/internal/logging"
	"salesdw/internal/metrics"
	"salesdw/internal/storage"
	"salesdw/internal/warehouse"
)

// Config tunes the checks. Start from DefaultConfig.
type Config struct {
	// MinFactCoverage is the lowest acceptable coverage ratio, clamped to [0,1].
	MinFactCoverage float64
	FailOnWarnings  bool
	RatingMin       float64
	RatingMax       float64
	// SampleLimit caps the offending values quoted in an issue.
	SampleLimit int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinFactCoverage: 0.98,
		RatingMin:       0,
		RatingMax:       10,
		SampleLimit:     5,
	}
}

func (c Config) normalized() Config {
	if math.IsNaN(c.MinFactCoverage) {
		c.MinFactCoverage = DefaultConfig().MinFactCoverage
	}
	c.MinFactCoverage = math.Max(0, math.Min(1, c.MinFactCoverage))
	if c.SampleLimit <= 0 {
		c.SampleLimit = DefaultConfig().SampleLimit
	}
	return c
}

// Validator checks a warehouse through q.
type Validator struct {
	Q      storage.Querier
	Logger logging.Logger
	Config Config
}

const (
	landing  = warehouse.LandingTable
	fact     = warehouse.FactTable
	category = warehouse.CategoryDimTable
	branch   = warehouse.BranchDimTable
)

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Validate runs every check and returns the report. The error is a
// *FatalError, a *FailedError or a storage error.
func (v *Validator) Validate(ctx context.Context) (*Report, error) {
	if v.Q == nil {
		return nil, fmt.Errorf("dq: Querier is required")
	}
	cfg := v.Config.normalized()
	log := v.logger()

	rep := &Report{}
	if err := v.checkStructure(ctx, rep, log); err != nil {
		return rep, err
	}

	checks := []struct {
		name string
		fn   func(context.Context, Config, *Report) error
	}{
		{"coverage", v.checkCoverage},
		{"txn_date_format", v.checkTxnDates},
		{"branch_scd2", v.checkBranchVersions},
		{"fact_nulls", v.checkCriticalNulls},
		{"referential_integrity", v.checkReferences},
		{"measures", v.checkMeasures},
	}
	for _, c := range checks {
		if err := c.fn(ctx, cfg, rep); err != nil {
			return rep, fmt.Errorf("dq: %s: %w", c.name, err)
		}
	}

	for _, is := range rep.Errors {
		log.Errorf("%s", is.Message)
		metrics.IncCounter(metrics.DQIssuesTotal, 1, metrics.Labels{"severity": string(SeverityError)})
	}
	for _, is := range rep.Warnings {
		log.Warnf("%s", is.Message)
		metrics.IncCounter(metrics.DQIssuesTotal, 1, metrics.Labels{"severity": string(SeverityWarning)})
	}

	if rep.Failed(cfg.FailOnWarnings) {
		return rep, &FailedError{Report: rep, FailOnWarnings: cfg.FailOnWarnings}
	}
	log.Infof("validation passed (%d warnings)", len(rep.Warnings))
	return rep, nil
}

// checkStructure runs the fatal checks and fills rep.Counts.
func (v *Validator) checkStructure(ctx context.Context, rep *Report, log logging.Logger) error {
	tables, err := storage.ListTables(ctx, v.Q)
	if err != nil {
		return fmt.Errorf("dq: list tables: %w", err)
	}
	var missing []string
	for _, name := range warehouse.TableNames() {
		if !tables[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &FatalError{Err: ErrMissingTables, Detail: strings.Join(missing, ", ")}
	}

	counts := []struct {
		table string
		dst   *int64
	}{
		{landing, &rep.Counts.Landing},
		{fact, &rep.Counts.Fact},
		{category, &rep.Counts.CategoryDim},
		{branch, &rep.Counts.BranchDim},
	}
	for _, c := range counts {
		n, err := v.count(ctx, "SELECT COUNT(*) FROM "+c.table)
		if err != nil {
			return fmt.Errorf("dq: count %s: %w", c.table, err)
		}
		*c.dst = n
	}
	log.Infof("row counts: landing=%d fact=%d dim_product_line=%d dim_branch=%d",
		rep.Counts.Landing, rep.Counts.Fact, rep.Counts.CategoryDim, rep.Counts.BranchDim)

	switch {
	case rep.Counts.Landing == 0:
		return &FatalError{Err: ErrEmptyLanding}
	case rep.Counts.Fact == 0:
		return &FatalError{Err: ErrEmptyFact}
	case rep.Counts.CategoryDim == 0:
		return &FatalError{Err: ErrEmptyCategoryDim}
	}

	dupes, err := v.count(ctx, `SELECT COUNT(*) FROM (
  SELECT row_hash FROM `+fact+` GROUP BY row_hash HAVING COUNT(*) > 1
) d`)
	if err != nil {
		return fmt.Errorf("dq: duplicate fingerprints: %w", err)
	}
	if dupes > 0 {
		return &FatalError{Err: ErrDuplicateFingerprints, Detail: fmt.Sprintf("%d values", dupes)}
	}
	return nil
}

const eligibleLanding = `b.date IS NOT NULL
  AND b.product_line IS NOT NULL
  AND b.branch IS NOT NULL
  AND b.city IS NOT NULL`

func (v *Validator) checkCoverage(ctx context.Context, cfg Config, rep *Report) error {
	eligible, err := v.count(ctx, `SELECT COUNT(*) FROM (
  SELECT DISTINCT b.row_hash FROM `+landing+` b WHERE `+eligibleLanding+`
) e`)
	if err != nil {
		return err
	}
	covered, err := v.count(ctx, `SELECT COUNT(*) FROM (
  SELECT DISTINCT b.row_hash FROM `+landing+` b
  WHERE `+eligibleLanding+`
    AND EXISTS (SELECT 1 FROM `+fact+` f WHERE f.row_hash = b.row_hash)
) c`)
	if err != nil {
		return err
	}
	rep.Eligible, rep.Covered = eligible, covered

	if eligible == 0 {
		rep.add(Issue{
			Severity: SeverityWarning,
			Check:    "coverage",
			Message:  "no eligible landing rows for the coverage check (date, product_line, branch and city all required)",
		})
		return nil
	}

	rep.Coverage = float64(covered) / float64(eligible)
	metrics.SetGauge(metrics.DQFactCoverage, rep.Coverage, nil)
	v.logger().Infof("fact coverage: %.3f (%d/%d)", rep.Coverage, covered, eligible)
	if rep.Coverage < cfg.MinFactCoverage {
		rep.add(Issue{
			Severity: SeverityError,
			Check:    "coverage",
			Count:    eligible - covered,
			Message: fmt.Sprintf(
				"fact coverage below threshold: %.3f (%d/%d) < %.3f; missing dimension keys, bad parsing or load errors",
				rep.Coverage, covered, eligible, cfg.MinFactCoverage),
		})
	}
	return nil
}

func (v *Validator) checkTxnDates(ctx context.Context, cfg Config, rep *Report) error {
	rows, err := v.Q.Query(ctx, "SELECT txn_date FROM "+fact+" WHERE txn_date IS NOT NULL")
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		bad     int64
		samples []string
	)
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return err
		}
		s := storage.NormalizeKey(raw)
		if validDate(s) {
			continue
		}
		bad++
		if len(samples) < cfg.SampleLimit {
			samples = append(samples, s)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if bad > 0 {
		rep.add(Issue{
			Severity: SeverityError,
			Check:    "txn_date_format",
			Count:    bad,
			Samples:  samples,
			Message:  fmt.Sprintf("found %d non-ISO txn_date values (sample): %q", bad, samples),
		})
	}
	return nil
}

func validDate(s string) bool {
	if !isoDate.MatchString(s) {
		return false
	}
	_, err := time.Parse(warehouse.DateLayout, s)
	return err == nil
}

func (v *Validator) checkBranchVersions(ctx context.Context, _ Config, rep *Report) error {
	current, err := v.count(ctx, "SELECT COUNT(*) FROM "+branch+" WHERE is_current = 1")
	if err != nil {
		return err
	}
	if current == 0 {
		rep.add(Issue{
			Severity: SeverityError,
			Check:    "branch_scd2",
			Message:  "branch dimension has no current records (is_current=1)",
		})
	}

	wrongCurrent, err := v.count(ctx, `SELECT COUNT(*) FROM (
  SELECT branch_code FROM `+branch+`
  GROUP BY branch_code
  HAVING SUM(CASE WHEN is_current = 1 THEN 1 ELSE 0 END) <> 1
) w`)
	if err != nil {
		return err
	}
	if wrongCurrent > 0 {
		rep.add(Issue{
			Severity: SeverityError,
			Check:    "branch_scd2",
			Count:    wrongCurrent,
			Message:  fmt.Sprintf("found %d branch codes with != 1 current record", wrongCurrent),
		})
	}

	broken, err := v.count(ctx, `SELECT COUNT(*) FROM `+branch+` c
WHERE c.is_current = 0
  AND NOT EXISTS (
    SELECT 1 FROM `+branch+` n
    WHERE n.branch_code = c.branch_code
      AND n.branch_key <> c.branch_key
      AND n.valid_from = c.valid_to
  )`)
	if err != nil {
		return err
	}
	if broken > 0 {
		rep.add(Issue{
			Severity: SeverityError,
			Check:    "branch_scd2",
			Count:    broken,
			Message:  fmt.Sprintf("found %d closed branch versions whose valid_to starts no other version", broken),
		})
	}
	return nil
}

func (v *Validator) checkCriticalNulls(ctx context.Context, _ Config, rep *Report) error {
	n, err := v.count(ctx, `SELECT COUNT(*) FROM `+fact+`
WHERE row_hash IS NULL
   OR product_line_key IS NULL
   OR branch_key IS NULL
   OR txn_date IS NULL
   OR loaded_at IS NULL`)
	if err != nil {
		return err
	}
	if n > 0 {
		rep.add(Issue{
			Severity: SeverityError,
			Check:    "fact_nulls",
			Count:    n,
			Message:  fmt.Sprintf("fact table has %d rows with NULLs in critical columns", n),
		})
	}
	return nil
}

func (v *Validator) checkReferences(ctx context.Context, _ Config, rep *Report) error {
	refs := []struct{ dim, key string }{
		{category, "product_line_key"},
		{branch, "branch_key"},
	}
	for _, r := range refs {
		n, err := v.count(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s f
LEFT JOIN %s d ON f.%s = d.%s
WHERE d.%s IS NULL`, fact, r.dim, r.key, r.key, r.key))
		if err != nil {
			return err
		}
		if n > 0 {
			rep.add(Issue{
				Severity: SeverityError,
				Check:    "referential_integrity",
				Count:    n,
				Message:  fmt.Sprintf("found %d fact rows with a %s missing from the dimension", n, r.key),
			})
		}
	}
	return nil
}

func (v *Validator) checkMeasures(ctx context.Context, cfg Config, rep *Report) error {
	negative, err := v.count(ctx, `SELECT COUNT(*) FROM `+fact+`
WHERE unit_price < 0
   OR tax_5_percent < 0
   OR total < 0
   OR cogs < 0
   OR gross_income < 0`)
	if err != nil {
		return err
	}
	if negative > 0 {
		rep.add(Issue{
			Severity: SeverityError,
			Check:    "negative_money",
			Count:    negative,
			Message:  fmt.Sprintf("found %d fact rows with negative monetary values", negative),
		})
	}

	qty, err := v.count(ctx, "SELECT COUNT(*) FROM "+fact+" WHERE quantity <= 0")
	if err != nil {
		return err
	}
	if qty > 0 {
		rep.add(Issue{
			Severity: SeverityError,
			Check:    "quantity",
			Count:    qty,
			Message:  fmt.Sprintf("found %d fact rows with non-positive quantity", qty),
		})
	}

	rating, err := v.count(ctx, "SELECT COUNT(*) FROM "+fact+" WHERE rating < ? OR rating > ?",
		cfg.RatingMin, cfg.RatingMax)
	if err != nil {
		return err
	}
	if rating > 0 {
		rep.add(Issue{
			Severity: SeverityWarning,
			Check:    "rating_range",
			Count:    rating,
			Message:  fmt.Sprintf("found %d fact rows with rating outside [%g,%g]", rating, cfg.RatingMin, cfg.RatingMax),
		})
	}
	return nil
}

func (v *Validator) logger() logging.Logger {
	if v.Logger == nil {
		return logging.Nop()
	}
	return v.Logger
}

func (v *Validator) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := v.Q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
