package model

import (
	"context"
	"fmt"

	"tabpipe/internal/config"
)

func init() {
	Register("linear", newLinearTrainer)
}

// linearModel scores rows as intercept + dot(weights, features). It exists
// so a pipeline document can ship a pre-fitted linear model as plain
// numbers; estimating the weights is someone else's job.
type linearModel struct {
	intercept float64
	weights   []float64
}

func newLinearTrainer(opts config.Options) (Trainer, error) {
	raw := opts.Any("weights")
	if raw == nil {
		return nil, fmt.Errorf("model: linear requires a weights option")
	}
	weights, err := floatSlice(raw)
	if err != nil {
		return nil, fmt.Errorf("model: linear weights: %w", err)
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("model: linear requires at least one weight")
	}
	return &linearTrainer{model: &linearModel{
		intercept: opts.Float("intercept", 0),
		weights:   weights,
	}}, nil
}

// linearTrainer carries a fully specified model, so Fit ignores the
// training set.
type linearTrainer struct {
	model *linearModel
}

func (t *linearTrainer) Fit(ctx context.Context, features [][]float64, target []float64) (Model, error) {
	return t.model, nil
}

func (m *linearModel) Predict(ctx context.Context, features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, row := range features {
		if len(row) != len(m.weights) {
			return nil, fmt.Errorf("model: row %d has %d features, model expects %d", i, len(row), len(m.weights))
		}
		y := m.intercept
		for j, w := range m.weights {
			y += w * row[j]
		}
		out[i] = y
	}
	return out, nil
}

// floatSlice converts a decoded JSON array into []float64.
func floatSlice(v any) ([]float64, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of numbers, got %T", v)
	}
	out := make([]float64, 0, len(items))
	for i, it := range items {
		f, ok := it.(float64)
		if !ok {
			return nil, fmt.Errorf("element %d is %T, not a number", i, it)
		}
		out = append(out, f)
	}
	return out, nil
}
