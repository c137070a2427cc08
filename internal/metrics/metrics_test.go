package metrics

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"tabpipe/internal/dataset"
)

// fakeBackend is a simple in-memory Backend implementation for tests.
type fakeBackend struct {
	mu sync.Mutex

	callsCounters   []counterCall
	callsHistograms []histCall
	flushCount      int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsCounters = append(f.callsCounters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsHistograms = append(f.callsHistograms, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCount++
	return nil
}

func TestRecordRun_StatusClasses(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordRun("trips", nil, 2*time.Second)
	RecordRun("trips", fmt.Errorf("row 3: %w", dataset.ErrTransformFailure), 1500*time.Millisecond)

	if len(fb.callsCounters) != 2 {
		t.Fatalf("expected 2 counter calls, got %d", len(fb.callsCounters))
	}
	if len(fb.callsHistograms) != 2 {
		t.Fatalf("expected 2 histogram calls, got %d", len(fb.callsHistograms))
	}

	cc0 := fb.callsCounters[0]
	if cc0.name != "tabpipe_runs_total" || cc0.delta != 1 {
		t.Fatalf("counter[0] = %#v; want name=tabpipe_runs_total, delta=1", cc0)
	}
	if got := cc0.labels["job"]; got != "trips" {
		t.Fatalf("counter[0].labels[job]=%q; want %q", got, "trips")
	}
	if got := cc0.labels["status"]; got != "ok" {
		t.Fatalf("counter[0].labels[status]=%q; want %q", got, "ok")
	}

	h0 := fb.callsHistograms[0]
	if h0.name != "tabpipe_run_duration_seconds" {
		t.Fatalf("hist[0].name=%q; want tabpipe_run_duration_seconds", h0.name)
	}
	if h0.value < 2.0-0.001 || h0.value > 2.0+0.001 {
		t.Fatalf("hist[0].value=%v; want ~2.0", h0.value)
	}

	cc1 := fb.callsCounters[1]
	if cc1.labels["status"] != "transform_failure" {
		t.Fatalf("counter[1].labels[status]=%q; want %q", cc1.labels["status"], "transform_failure")
	}
	h1 := fb.callsHistograms[1]
	if h1.value < 1.5-0.001 || h1.value > 1.5+0.001 {
		t.Fatalf("hist[1].value=%v; want ~1.5", h1.value)
	}
}

func TestRecordRowsAndChunks(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordRows("trips", "in", 3)
	RecordRows("trips", "in", 0) // ignored
	RecordRows("trips", "out", 5)
	RecordChunks("trips", 2)

	if len(fb.callsCounters) != 3 {
		t.Fatalf("expected 3 counter calls, got %d", len(fb.callsCounters))
	}

	c0 := fb.callsCounters[0]
	if c0.name != "tabpipe_rows_total" || c0.delta != 3 {
		t.Fatalf("counter[0] = %#v; want name=tabpipe_rows_total, delta=3", c0)
	}
	if c0.labels["job"] != "trips" || c0.labels["kind"] != "in" {
		t.Fatalf("counter[0] labels = %v; want job=trips, kind=in", c0.labels)
	}

	c1 := fb.callsCounters[1]
	if c1.name != "tabpipe_rows_total" || c1.delta != 5 {
		t.Fatalf("counter[1] = %#v; want name=tabpipe_rows_total, delta=5", c1)
	}
	if c1.labels["kind"] != "out" {
		t.Fatalf("counter[1] labels = %v; want kind=out", c1.labels)
	}

	c2 := fb.callsCounters[2]
	if c2.name != "tabpipe_chunks_total" || c2.delta != 2 {
		t.Fatalf("counter[2] = %#v; want name=tabpipe_chunks_total, delta=2", c2)
	}
	if c2.labels["job"] != "trips" {
		t.Fatalf("counter[2].labels[job]=%q; want %q", c2.labels["job"], "trips")
	}
}

func TestSetBackendAndFlush(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	SetBackend(fb)

	if backend != fb {
		t.Fatal("SetBackend did not replace global backend")
	}

	if err := Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if fb.flushCount != 1 {
		t.Fatalf("expected flushCount=1, got %d", fb.flushCount)
	}

	// SetBackend(nil) should not nil out the backend.
	SetBackend(nil)
	if backend != fb {
		t.Fatal("SetBackend(nil) should not change backend")
	}
}
