// Package aggregate computes whole-dataset summaries one chunk at a time.
// An Aggregator never sees the dataset at once: workers fold chunks into
// forked partial states and the pipeline merges the partials when the read
// is done. Merge is associative and commutative, so the final numbers do
// not depend on how chunks were partitioned across workers or the order
// merges happen in.
package aggregate

import (
	"fmt"
	"sync"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

// Result is one finalized summary, shaped for JSON output.
type Result struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

// Summary is a run's results in the order the aggregators were configured.
type Summary []Result

// Aggregator accumulates one summary. Update absorbs a chunk without
// retaining it; Merge folds a partial of the same concrete type and
// configuration into the receiver; Fork returns an empty twin for a
// worker to fill.
type Aggregator interface {
	Name() string
	Update(chunk *dataset.Chunk) error
	Merge(other Aggregator) error
	Finalize() (Result, error)
	Fork() Aggregator
}

// Factory constructs an Aggregator from its options, validated against
// the schema the pipeline will feed it (post-transform).
type Factory func(opts config.Options, schema dataset.Schema) (Aggregator, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for an aggregator kind.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// New constructs an Aggregator of the given kind.
func New(kind string, opts config.Options, schema dataset.Schema) (Aggregator, error) {
	regMu.RLock()
	fn, ok := factories[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("aggregate: no aggregator registered for kind=%q", kind)
	}
	return fn(opts, schema)
}

// categoricalColumn resolves a column that must be categorical and returns
// its index plus a level -> position map shared by forks.
func categoricalColumn(schema dataset.Schema, name, kind string) (int, map[string]int, error) {
	if name == "" {
		return 0, nil, fmt.Errorf("aggregate: %s requires a column name", kind)
	}
	ix, ok := schema.Index(name)
	if !ok {
		return 0, nil, fmt.Errorf("aggregate: %s: unknown column %q", kind, name)
	}
	if schema[ix].Kind != dataset.KindCategorical {
		return 0, nil, fmt.Errorf("aggregate: %s: column %q is %s, not categorical", kind, name, schema[ix].Kind)
	}
	pos := make(map[string]int, len(schema[ix].Levels))
	for i, l := range schema[ix].Levels {
		pos[l] = i
	}
	return ix, pos, nil
}
