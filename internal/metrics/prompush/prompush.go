// Package prompush implements a metrics.Backend that pushes to a Prometheus
// Pushgateway.
//
// A batch run has no scrape endpoint, so samples accumulate in a private
// registry and Flush pushes the whole registry, replacing the previous push
// for the job's grouping key.
package prompush

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"salesdw/internal/metrics"
)

// Backend implements metrics.Backend and metrics.Gauger.
type Backend struct {
	pusher *push.Pusher

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	labelNames map[string][]string
}

// NewBackend creates a backend pushing to gatewayURL under job.
//
// Errors:
//   - empty job or gateway URL
//   - collector registration failures (duplicate names are a programming error)
func NewBackend(job, gatewayURL string) (*Backend, error) {
	return newBackend(job, gatewayURL, &http.Client{Timeout: 10 * time.Second})
}

func newBackend(job, gatewayURL string, client push.HTTPDoer) (*Backend, error) {
	job = strings.TrimSpace(job)
	gatewayURL = strings.TrimSpace(gatewayURL)
	if job == "" {
		return nil, fmt.Errorf("prompush: empty job name")
	}
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: empty pushgateway url")
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		labelNames: map[string][]string{},
	}

	counter := func(name, help string, labels ...string) {
		b.counters[name] = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
		b.labelNames[name] = labels
	}
	histogram := func(name, help string, buckets []float64, labels ...string) {
		b.histograms[name] = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
		b.labelNames[name] = labels
	}
	gauge := func(name, help string, labels ...string) {
		b.gauges[name] = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
		b.labelNames[name] = labels
	}

	counter(metrics.StepTotal, "Pipeline step executions.", "step", "status")
	counter(metrics.RecordsTotal, "Records processed by kind.", "kind")
	counter(metrics.HTTPRequestsTotal, "HTTP requests issued by the extractor.", "status")
	counter(metrics.HTTPErrorsTotal, "Failed HTTP requests.", "status")
	counter(metrics.DQIssuesTotal, "Data-quality issues by severity.", "severity")
	histogram(metrics.StepDuration, "Pipeline step duration.", prometheus.DefBuckets, "step", "status")
	histogram(metrics.HTTPRequestDuration, "HTTP request duration.", prometheus.DefBuckets, "status")
	histogram(metrics.HTTPDownloadBytes, "Downloaded body size.", prometheus.ExponentialBuckets(1024, 4, 10), "status")
	gauge(metrics.DQFactCoverage, "Fraction of eligible landing fingerprints present as facts.")

	for _, c := range b.counters {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	for _, h := range b.histograms {
		if err := reg.Register(h); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	for _, g := range b.gauges {
		if err := reg.Register(g); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}

	b.pusher = push.New(gatewayURL, job).Gatherer(reg).Client(client)
	return b, nil
}

// values orders label values as the collector declared them. Missing labels
// become "unknown".
func (b *Backend) values(name string, labels metrics.Labels) []string {
	names := b.labelNames[name]
	out := make([]string, len(names))
	for i, n := range names {
		v := labels[n]
		if v == "" {
			v = "unknown"
		}
		out[i] = v
	}
	return out
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	c, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	c.WithLabelValues(b.values(name, labels)...).Add(delta)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	h, ok := b.histograms[name]
	if !ok || value < 0 {
		return
	}
	h.WithLabelValues(b.values(name, labels)...).Observe(value)
}

func (b *Backend) SetGauge(name string, value float64, labels metrics.Labels) {
	g, ok := b.gauges[name]
	if !ok {
		return
	}
	g.WithLabelValues(b.values(name, labels)...).Set(value)
}

// Flush pushes every collected series, replacing the job's previous push.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

var (
	_ metrics.Backend = (*Backend)(nil)
	_ metrics.Gauger  = (*Backend)(nil)
)
