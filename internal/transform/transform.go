// Package transform holds the per-chunk column operations a pipeline
// applies between reading and writing. Transforms are pure with respect to
// everything except the chunk they are handed: the same transform applied
// to the same chunk twice yields identical output, which is what makes
// multi-worker chunk processing safe without coordination.
//
// A transform may add derived columns but never changes row count or row
// order; dropping rows is the job of the selection predicate upstream.
package transform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
	"tabpipe/internal/lookup"
	"tabpipe/internal/model"
)

// Transform rewrites one chunk. Apply owns the chunk it is given and may
// mutate it in place; it usually returns the same chunk with columns
// appended. The context is the run's; transforms that call out (model
// scoring, most notably) must honor its cancellation. OutSchema reports
// the schema Apply produces for a given input schema, so the pipeline can
// bind its writer before the first chunk.
type Transform interface {
	Name() string
	OutSchema(in dataset.Schema) (dataset.Schema, error)
	Apply(ctx context.Context, chunk *dataset.Chunk, tc *Context) (*dataset.Chunk, error)
}

// Context carries the read-only collaborators a run shares across all
// chunks and workers. Nothing in it is mutated after the run starts.
type Context struct {
	Lookups map[string]*lookup.Table
	Models  map[string]model.Model
	Params  map[string]any
}

// Lookup returns the named table, nil-safe for tests that pass no context.
func (tc *Context) Lookup(name string) (*lookup.Table, bool) {
	if tc == nil || tc.Lookups == nil {
		return nil, false
	}
	t, ok := tc.Lookups[name]
	return t, ok
}

// Model returns the named model handle.
func (tc *Context) Model(name string) (model.Model, bool) {
	if tc == nil || tc.Models == nil {
		return nil, false
	}
	m, ok := tc.Models[name]
	return m, ok
}

// Factory constructs a Transform from its options, validated against the
// schema of the position it will run at.
type Factory func(opts config.Options, schema dataset.Schema) (Transform, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for a transform kind.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// New constructs a Transform of the given kind against the given input
// schema. Option and schema problems surface here, before any data moves.
func New(kind string, opts config.Options, schema dataset.Schema) (Transform, error) {
	regMu.RLock()
	fn, ok := factories[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transform: no transform registered for kind=%q", kind)
	}
	return fn(opts, schema)
}

// nullPolicy says what a transform does when an input cell it needs is
// null. Computation faults (divide by zero, log of a non-positive) are
// never subject to policy; they always fail.
type nullPolicy int

const (
	nullPropagate nullPolicy = iota // null in, null out
	nullFail                        // TransformError at the row
	nullFill                        // substitute fill_value for the null
)

// parsePolicy reads the shared nulls / fill_value options. When the policy
// is fill, the raw fill value is returned for the caller to coerce against
// whichever column it applies to.
func parsePolicy(opts config.Options) (nullPolicy, any, error) {
	switch s := opts.String("nulls", "propagate"); s {
	case "propagate":
		return nullPropagate, nil, nil
	case "fail":
		return nullFail, nil, nil
	case "fill":
		v := opts.Any("fill_value")
		if v == nil {
			return 0, nil, fmt.Errorf("transform: nulls=fill requires a fill_value option")
		}
		return nullFill, v, nil
	default:
		return 0, nil, fmt.Errorf("transform: nulls must be propagate, fail or fill, got %q", s)
	}
}

// coerceCell converts a decoded JSON option value into the in-memory
// representation for a column, enforcing declared levels and layouts the
// same way the readers do.
func coerceCell(col dataset.Column, v any) (any, error) {
	switch col.Kind {
	case dataset.KindNumeric:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("column %q is numeric, got %T", col.Name, v)
		}
		return f, nil
	case dataset.KindCategorical:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %q is categorical, got %T", col.Name, v)
		}
		if col.LevelIndex(s) < 0 {
			return nil, fmt.Errorf("%q is not a declared level of column %q", s, col.Name)
		}
		return s, nil
	case dataset.KindText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %q is text, got %T", col.Name, v)
		}
		return s, nil
	case dataset.KindTimestamp:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %q is a timestamp, got %T", col.Name, v)
		}
		t, err := time.Parse(col.TimeLayout(), s)
		if err != nil {
			return nil, fmt.Errorf("%q does not match layout %q for column %q", s, col.TimeLayout(), col.Name)
		}
		return t.UTC(), nil
	default:
		return nil, fmt.Errorf("column %q has unknown kind", col.Name)
	}
}
