// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// Batch runs are short-lived processes, so instead of exposing a scrape
// endpoint the backend collects into a private registry and pushes the whole
// registry to a Pushgateway when the run flushes. It adapts the generic
// metrics.Backend interface by:
//
//   - Using client_golang counter and summary collectors.
//   - Mapping the run labels (job, status, kind) onto Prometheus labels,
//     with job doubling as the Pushgateway grouping key.
//
// All Prometheus-specific dependencies stay in this package; the engine
// depends only on the metrics.Backend abstraction.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"tabpipe/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	runCounter  *prometheus.CounterVec // "tabpipe_runs_total"
	runDuration *prometheus.SummaryVec // "tabpipe_run_duration_seconds"

	rowCounter   *prometheus.CounterVec // "tabpipe_rows_total"
	chunkCounter prometheus.Counter     // "tabpipe_chunks_total"
}

// NewBackend constructs a Pushgateway backend. jobName becomes the
// Pushgateway "job" grouping key, so per-run labels only need status/kind.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "tabpipe"
	}

	reg := prometheus.NewRegistry()

	runCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabpipe_runs_total",
			Help: "Total number of pipeline runs, partitioned by outcome status.",
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "tabpipe_run_duration_seconds",
			Help:       "Wall-clock duration of pipeline runs in seconds, partitioned by outcome status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"status"},
	)
	rowCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabpipe_rows_total",
			Help: "Row counts per kind (in = read from source, out = delivered to sink).",
		},
		[]string{"kind"},
	)
	chunkCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabpipe_chunks_total",
			Help: "Total number of chunks processed by this job.",
		},
	)

	if err := reg.Register(runCounter); err != nil {
		return nil, fmt.Errorf("prompush: register run counter: %w", err)
	}
	if err := reg.Register(runDuration); err != nil {
		return nil, fmt.Errorf("prompush: register run summary: %w", err)
	}
	if err := reg.Register(rowCounter); err != nil {
		return nil, fmt.Errorf("prompush: register row counter: %w", err)
	}
	if err := reg.Register(chunkCounter); err != nil {
		return nil, fmt.Errorf("prompush: register chunk counter: %w", err)
	}

	return &Backend{
		gatewayURL:   gatewayURL,
		jobName:      jobName,
		reg:          reg,
		runCounter:   runCounter,
		runDuration:  runDuration,
		rowCounter:   rowCounter,
		chunkCounter: chunkCounter,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case "tabpipe_runs_total":
		if b.runCounter == nil {
			return
		}
		b.runCounter.WithLabelValues(labels["status"]).Add(delta)

	case "tabpipe_rows_total":
		if b.rowCounter == nil {
			return
		}
		b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)

	case "tabpipe_chunks_total":
		if b.chunkCounter == nil {
			return
		}
		b.chunkCounter.Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != "tabpipe_run_duration_seconds" || b.runDuration == nil {
		return
	}
	b.runDuration.WithLabelValues(labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
