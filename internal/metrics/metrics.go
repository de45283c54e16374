// Package metrics is the process-wide metrics facade.
//
// Core code records through the package-level functions; cmd/ wires a
// concrete Backend (Datadog, Pushgateway) with SetBackend. Until then a nop
// backend swallows everything, so packages and tests never need a guard.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"step": "landing", "status": "ok"}.
type Labels map[string]string

// Backend receives metric samples.
//
// Implementations must be safe for concurrent use. Names a backend does not
// know are ignored.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Gauger is implemented by backends that support last-value gauges.
type Gauger interface {
	SetGauge(name string, value float64, labels Labels)
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// SetGauge records a gauge if the installed backend supports gauges.
func SetGauge(name string, value float64, labels Labels) {
	if g, ok := current().(Gauger); ok {
		g.SetGauge(name, value, labels)
	}
}

// Flush flushes the installed backend.
func Flush() error {
	return current().Flush()
}

// Metric names shared by the backends.
const (
	StepTotal           = "etl_step_total"
	StepDuration        = "etl_step_duration_seconds"
	RecordsTotal        = "etl_records_total"
	HTTPRequestsTotal   = "etl_http_requests_total"
	HTTPErrorsTotal     = "etl_http_errors_total"
	HTTPRequestDuration = "etl_http_request_duration_seconds"
	HTTPDownloadBytes   = "etl_http_download_bytes"
	DQIssuesTotal       = "dq_issues_total"
	DQFactCoverage      = "dq_fact_coverage"
)

// RecordStep counts one execution of a pipeline step and its duration.
// status is "ok" when err is nil, "error" otherwise.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRecords adds n to the records counter of the given kind
// (e.g. "landed", "fact_inserted", "skipped_missing_dim").
func RecordRecords(kind string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordHTTP records one HTTP attempt. status 0 means no response was received.
func RecordHTTP(status int, err error, d time.Duration, bytes int64) {
	s := "unknown"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	l := Labels{"status": s}
	IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status >= 400 || status == 0 {
		IncCounter(HTTPErrorsTotal, 1, l)
	}
	ObserveHistogram(HTTPRequestDuration, d.Seconds(), l)
	if bytes > 0 {
		ObserveHistogram(HTTPDownloadBytes, float64(bytes), l)
	}
}
