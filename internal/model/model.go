// Package model defines the opaque fit/predict handles the predict
// transform calls into. The pipeline makes no claims about the statistics
// behind a Model; anything registered here is a black box that maps a
// feature matrix to one prediction per row.
package model

import (
	"context"
	"fmt"
	"sync"

	"tabpipe/internal/config"
)

// Model scores feature rows. Predict returns exactly one value per input
// row, in input order. Implementations must be safe for concurrent calls;
// the pipeline shares one Model across transform workers.
type Model interface {
	Predict(ctx context.Context, features [][]float64) ([]float64, error)
}

// Trainer produces a Model from a training set. Trainers whose options
// already pin the model down completely may ignore the training data.
type Trainer interface {
	Fit(ctx context.Context, features [][]float64, target []float64) (Model, error)
}

// Factory constructs a Trainer for one model kind.
type Factory func(opts config.Options) (Trainer, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the Factory for a model kind.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// NewTrainer constructs a Trainer of the given kind.
func NewTrainer(kind string, opts config.Options) (Trainer, error) {
	regMu.RLock()
	fn, ok := factories[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("model: no trainer registered for kind=%q", kind)
	}
	return fn(opts)
}
