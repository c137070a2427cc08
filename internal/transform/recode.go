package transform

import (
	"context"
	"fmt"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

func init() {
	Register("recode", newRecode)
}

// recode relabels a categorical column. Old levels route through the
// mapping (or pass through unmapped) onto a new level set; because the old
// set is declared, totality is checked at construction and Apply can only
// fail on nulls under the fail policy.
type recode struct {
	column  string
	mapping map[string]string
	levels  []string
	policy  nullPolicy
	fill    string
	total   map[string]string
	ix      int
}

func newRecode(opts config.Options, schema dataset.Schema) (Transform, error) {
	r := &recode{
		column:  opts.String("column", ""),
		mapping: opts.StringMap("mapping"),
		levels:  opts.StringSlice("levels"),
	}
	if r.column == "" {
		return nil, fmt.Errorf("transform: recode requires a column option")
	}
	var fillRaw any
	var err error
	if r.policy, fillRaw, err = parsePolicy(opts); err != nil {
		return nil, err
	}
	out, err := r.OutSchema(schema)
	if err != nil {
		return nil, err
	}
	r.ix, _ = schema.Index(r.column)
	newCol := out[r.ix]
	if r.policy == nullFill {
		s, ok := fillRaw.(string)
		if !ok {
			return nil, fmt.Errorf("transform: recode fill_value must be a string, got %T", fillRaw)
		}
		if newCol.LevelIndex(s) < 0 {
			return nil, fmt.Errorf("transform: recode fill_value %q is not in the new level set", s)
		}
		r.fill = s
	}
	r.total = map[string]string{}
	for _, old := range schema[r.ix].Levels {
		if to, ok := r.mapping[old]; ok {
			r.total[old] = to
		} else {
			r.total[old] = old
		}
	}
	return r, nil
}

func (r *recode) Name() string { return "recode" }

func (r *recode) OutSchema(in dataset.Schema) (dataset.Schema, error) {
	ix, ok := in.Index(r.column)
	if !ok {
		return nil, fmt.Errorf("transform: recode: unknown column %q", r.column)
	}
	if in[ix].Kind != dataset.KindCategorical {
		return nil, fmt.Errorf("transform: recode: column %q is %s, not categorical", r.column, in[ix].Kind)
	}
	old := in[ix].Levels
	for from := range r.mapping {
		if in[ix].LevelIndex(from) < 0 {
			return nil, fmt.Errorf("transform: recode: mapping key %q is not a level of column %q", from, r.column)
		}
	}

	// The new level set is either declared explicitly or derived as the
	// image of the old set through the mapping, in old-set order.
	levels := r.levels
	if len(levels) == 0 {
		seen := map[string]struct{}{}
		for _, l := range old {
			to := l
			if m, ok := r.mapping[l]; ok {
				to = m
			}
			if _, dup := seen[to]; !dup {
				seen[to] = struct{}{}
				levels = append(levels, to)
			}
		}
	}
	set := map[string]struct{}{}
	for _, l := range levels {
		set[l] = struct{}{}
	}
	for _, l := range old {
		to := l
		if m, ok := r.mapping[l]; ok {
			to = m
		}
		if _, ok := set[to]; !ok {
			return nil, fmt.Errorf("transform: recode: level %q maps to %q, which is not in the new level set", l, to)
		}
	}

	out := in.Clone()
	out[ix].Levels = levels
	return out, nil
}

func (r *recode) Apply(ctx context.Context, chunk *dataset.Chunk, tc *Context) (*dataset.Chunk, error) {
	for i, row := range chunk.Rows {
		v := row.V[r.ix]
		if v == nil {
			switch r.policy {
			case nullFail:
				return nil, &dataset.TransformError{Op: "recode", Row: i, Column: r.column, Reason: "null input"}
			case nullFill:
				row.V[r.ix] = r.fill
			}
			continue
		}
		s, _ := v.(string)
		to, ok := r.total[s]
		if !ok {
			return nil, &dataset.TransformError{Op: "recode", Row: i, Column: r.column, Reason: fmt.Sprintf("%q is not a declared level", s)}
		}
		row.V[r.ix] = to
	}
	return chunk, nil
}
