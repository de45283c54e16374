package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type sample struct {
	kind   string
	name   string
	value  float64
	labels Labels
}

// recorder captures every call made through the facade.
type recorder struct {
	mu      sync.Mutex
	samples []sample
	flushes int
}

func (r *recorder) add(kind, name string, v float64, l Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample{kind, name, v, l})
}

func (r *recorder) IncCounter(name string, d float64, l Labels)       { r.add("counter", name, d, l) }
func (r *recorder) ObserveHistogram(name string, v float64, l Labels) { r.add("hist", name, v, l) }
func (r *recorder) Flush() error                                      { r.flushes++; return nil }

type gaugeRecorder struct{ recorder }

func (g *gaugeRecorder) SetGauge(name string, v float64, l Labels) { g.add("gauge", name, v, l) }

func install(t *testing.T, b Backend) {
	t.Helper()
	SetBackend(b)
	t.Cleanup(func() { SetBackend(nil) })
}

func TestNopBackendByDefault(t *testing.T) {
	SetBackend(nil)
	IncCounter("x", 1, nil)
	ObserveHistogram("x", 1, nil)
	SetGauge("x", 1, nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush()=%v, want nil", err)
	}
}

func TestRecordStep(t *testing.T) {
	r := &recorder{}
	install(t, r)

	RecordStep("landing", nil, 1500*time.Millisecond)
	RecordStep("facts", errors.New("boom"), time.Second)

	if len(r.samples) != 4 {
		t.Fatalf("samples=%d, want 4: %+v", len(r.samples), r.samples)
	}
	ok := r.samples[0]
	if ok.name != StepTotal || ok.labels["step"] != "landing" || ok.labels["status"] != "ok" {
		t.Fatalf("unexpected ok counter: %+v", ok)
	}
	if d := r.samples[1]; d.name != StepDuration || d.value != 1.5 {
		t.Fatalf("unexpected duration sample: %+v", d)
	}
	if e := r.samples[2]; e.labels["status"] != "error" {
		t.Fatalf("unexpected error counter: %+v", e)
	}
}

func TestRecordRecords_IgnoresNonPositive(t *testing.T) {
	r := &recorder{}
	install(t, r)

	RecordRecords("landed", 0)
	RecordRecords("landed", -3)
	RecordRecords("landed", 1000)

	if len(r.samples) != 1 {
		t.Fatalf("samples=%d, want 1", len(r.samples))
	}
	if s := r.samples[0]; s.name != RecordsTotal || s.value != 1000 || s.labels["kind"] != "landed" {
		t.Fatalf("unexpected sample: %+v", s)
	}
}

func TestRecordHTTP(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		bytes      int64
		wantStatus string
		wantErr    bool
		wantBytes  bool
	}{
		{name: "ok_with_body", status: 200, bytes: 2048, wantStatus: "200", wantBytes: true},
		{name: "client_error", status: 401, wantStatus: "401", wantErr: true},
		{name: "transport_error", status: 0, err: errors.New("dial"), wantStatus: "unknown", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &recorder{}
			install(t, r)

			RecordHTTP(tc.status, tc.err, 250*time.Millisecond, tc.bytes)

			var gotErr, gotBytes bool
			for _, s := range r.samples {
				if s.labels["status"] != tc.wantStatus {
					t.Fatalf("status label=%q, want %q", s.labels["status"], tc.wantStatus)
				}
				switch s.name {
				case HTTPErrorsTotal:
					gotErr = true
				case HTTPDownloadBytes:
					gotBytes = true
				}
			}
			if gotErr != tc.wantErr || gotBytes != tc.wantBytes {
				t.Fatalf("errors=%v bytes=%v, want %v %v", gotErr, gotBytes, tc.wantErr, tc.wantBytes)
			}
		})
	}
}

func TestSetGauge_OnlyWhenSupported(t *testing.T) {
	plain := &recorder{}
	install(t, plain)
	SetGauge(DQFactCoverage, 0.95, nil)
	if len(plain.samples) != 0 {
		t.Fatalf("gauge reached backend without SetGauge: %+v", plain.samples)
	}

	g := &gaugeRecorder{}
	install(t, g)
	SetGauge(DQFactCoverage, 0.95, nil)
	if len(g.samples) != 1 || g.samples[0].kind != "gauge" || g.samples[0].value != 0.95 {
		t.Fatalf("unexpected gauge samples: %+v", g.samples)
	}

	if err := Flush(); err != nil || g.flushes != 1 {
		t.Fatalf("Flush err=%v flushes=%d", err, g.flushes)
	}
}
