// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from pipeline runs.
//
// The package is intentionally minimal:
//
//   - It exposes a narrow interface (Backend) covering counters and
//     duration-style observations.
//   - It provides a global, pluggable backend that defaults to a no-op
//     implementation, so recording is always safe even when no real backend
//     is configured.
//   - It mirrors the registry pattern used by the source and sink layers:
//     the rest of the codebase depends only on this interface while concrete
//     metric systems live in subpackages.
//
// The primary use case is instrumenting runs (rows in and out, chunks
// processed, run outcome and duration) without coupling the engine to a
// specific metrics system such as Prometheus or Datadog.
package metrics

import (
	"time"

	"tabpipe/internal/dataset"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. a
	// Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordRun records one finished run: outcome counter plus duration. The
// status label carries the failure class from dataset.Classify, so "ok",
// "cancelled", "transform_failure" and friends are queryable directly.
func RecordRun(job string, err error, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"status": dataset.Classify(err),
	}
	backend.IncCounter("tabpipe_runs_total", 1, lbls)
	backend.ObserveHistogram("tabpipe_run_duration_seconds", d.Seconds(), lbls)
}

// RecordRows increments a row-level counter for the given job and kind.
//
// Typical kinds mirror the run result fields:
//   - "in"       rows read from the source
//   - "out"      rows delivered to the sink
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("tabpipe_rows_total", float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordChunks increments the processed-chunk counter for the given job.
func RecordChunks(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter("tabpipe_chunks_total", float64(delta), Labels{
		"job": job,
	})
}
