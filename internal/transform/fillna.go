package transform

import (
	"context"
	"fmt"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

func init() {
	Register("fillna", newFillna)
}

// fillna replaces nulls in the named columns with one constant, coerced to
// each column's kind. The schema passes through unchanged.
type fillna struct {
	names []string
	value any
	ixs   []int
	fills []any
}

func newFillna(opts config.Options, schema dataset.Schema) (Transform, error) {
	f := &fillna{
		names: opts.StringSlice("columns"),
		value: opts.Any("value"),
	}
	if len(f.names) == 0 {
		return nil, fmt.Errorf("transform: fillna requires a columns option")
	}
	if f.value == nil {
		return nil, fmt.Errorf("transform: fillna requires a value option")
	}
	if _, err := f.OutSchema(schema); err != nil {
		return nil, err
	}
	for _, name := range f.names {
		ix, _ := schema.Index(name)
		fill, err := coerceCell(schema[ix], f.value)
		if err != nil {
			return nil, fmt.Errorf("transform: fillna: %w", err)
		}
		f.ixs = append(f.ixs, ix)
		f.fills = append(f.fills, fill)
	}
	return f, nil
}

func (f *fillna) Name() string { return "fillna" }

func (f *fillna) OutSchema(in dataset.Schema) (dataset.Schema, error) {
	for _, name := range f.names {
		ix, ok := in.Index(name)
		if !ok {
			return nil, fmt.Errorf("transform: fillna: unknown column %q", name)
		}
		if _, err := coerceCell(in[ix], f.value); err != nil {
			return nil, fmt.Errorf("transform: fillna: %w", err)
		}
	}
	return in, nil
}

func (f *fillna) Apply(ctx context.Context, chunk *dataset.Chunk, tc *Context) (*dataset.Chunk, error) {
	for _, row := range chunk.Rows {
		for k, ix := range f.ixs {
			if row.V[ix] == nil {
				row.V[ix] = f.fills[k]
			}
		}
	}
	return chunk, nil
}
