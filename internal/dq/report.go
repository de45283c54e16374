package dq

import (
	"errors"
	"fmt"
	"strings"
)

// Fatal conditions. They stop validation at once and are returned wrapped in
// a *FatalError.
var (
	ErrMissingTables         = errors.New("missing expected tables")
	ErrEmptyLanding          = errors.New("landing table has 0 rows, extraction or load likely failed")
	ErrEmptyFact             = errors.New("fact table has 0 rows, dimension lookups or fact load likely failed")
	ErrEmptyCategoryDim      = errors.New("product line dimension has 0 rows, dimension load likely failed")
	ErrDuplicateFingerprints = errors.New("fact table contains duplicate row_hash values")
)

// FatalError is a structural failure that made further checks pointless.
type FatalError struct {
	Err    error
	Detail string
}

func (e *FatalError) Error() string {
	if e.Detail == "" {
		return "dq: " + e.Err.Error()
	}
	return "dq: " + e.Err.Error() + ": " + e.Detail
}

func (e *FatalError) Unwrap() error { return e.Err }

// Severity classifies an Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one failed check.
type Issue struct {
	Severity Severity
	Check    string
	Message  string
	Count    int64
	Samples  []string
}

// TableCounts holds the row count of every warehouse table.
type TableCounts struct {
	Landing     int64
	Fact        int64
	CategoryDim int64
	BranchDim   int64
}

// Report is the outcome of one validation pass. It is not persisted.
type Report struct {
	Counts TableCounts

	// Eligible is the number of distinct landing fingerprints with date,
	// product line, branch and city set; Covered is how many of them are in
	// the fact table.
	Eligible int64
	Covered  int64
	Coverage float64

	Errors   []Issue
	Warnings []Issue
}

func (r *Report) add(is Issue) {
	if is.Severity == SeverityWarning {
		r.Warnings = append(r.Warnings, is)
		return
	}
	r.Errors = append(r.Errors, is)
}

// Failed reports whether the report fails the run.
func (r *Report) Failed(failOnWarnings bool) bool {
	return len(r.Errors) > 0 || (failOnWarnings && len(r.Warnings) > 0)
}

// FailedError is returned when validation completed and found errors, or
// warnings while warnings are escalated.
type FailedError struct {
	Report         *Report
	FailOnWarnings bool
}

func (e *FailedError) Error() string {
	var parts []string
	if len(e.Report.Errors) > 0 {
		parts = append(parts, "data quality errors:\n"+bullets(e.Report.Errors))
	}
	if e.FailOnWarnings && len(e.Report.Warnings) > 0 {
		parts = append(parts, "warnings treated as errors:\n"+bullets(e.Report.Warnings))
	}
	return strings.Join(parts, "\n\n")
}

func bullets(issues []Issue) string {
	lines := make([]string, 0, len(issues))
	for _, is := range issues {
		lines = append(lines, "- "+is.Message)
	}
	return strings.Join(lines, "\n")
}

func (is Issue) String() string {
	return fmt.Sprintf("%s[%s]: %s", is.Severity, is.Check, is.Message)
}
