package aggregate

import (
	"fmt"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

func init() {
	Register("tally", newTally)
}

// tally counts one categorical column per declared level. Counts are
// dense: a level that never occurs reports zero, not a missing entry.
type tally struct {
	name   string
	column string
	ix     int
	levels []string
	pos    map[string]int

	counts []int64
	nulls  int64
}

// TallyValue is the finalized tally payload; Counts is parallel to Levels.
type TallyValue struct {
	Column string   `json:"column"`
	Levels []string `json:"levels"`
	Counts []int64  `json:"counts"`
	Nulls  int64    `json:"nulls"`
}

func newTally(opts config.Options, schema dataset.Schema) (Aggregator, error) {
	column := opts.String("column", "")
	ix, pos, err := categoricalColumn(schema, column, "tally")
	if err != nil {
		return nil, err
	}
	return &tally{
		name:   opts.String("name", fmt.Sprintf("tally(%s)", column)),
		column: column,
		ix:     ix,
		levels: schema[ix].Levels,
		pos:    pos,
		counts: make([]int64, len(schema[ix].Levels)),
	}, nil
}

func (t *tally) Name() string { return t.name }

func (t *tally) Fork() Aggregator {
	return &tally{
		name: t.name, column: t.column, ix: t.ix, levels: t.levels, pos: t.pos,
		counts: make([]int64, len(t.levels)),
	}
}

func (t *tally) Update(chunk *dataset.Chunk) error {
	for _, row := range chunk.Rows {
		s, ok := row.V[t.ix].(string)
		if !ok {
			t.nulls++
			continue
		}
		p, ok := t.pos[s]
		if !ok {
			return fmt.Errorf("aggregate: tally: %q is not a declared level of %q", s, t.column)
		}
		t.counts[p]++
	}
	return nil
}

func (t *tally) Merge(other Aggregator) error {
	o, ok := other.(*tally)
	if !ok {
		return fmt.Errorf("aggregate: cannot merge %T into tally", other)
	}
	if o.column != t.column || len(o.counts) != len(t.counts) {
		return fmt.Errorf("aggregate: merging tally over %q into tally over %q", o.column, t.column)
	}
	for i, c := range o.counts {
		t.counts[i] += c
	}
	t.nulls += o.nulls
	return nil
}

func (t *tally) Finalize() (Result, error) {
	counts := make([]int64, len(t.counts))
	copy(counts, t.counts)
	return Result{Name: t.name, Kind: "tally", Value: TallyValue{
		Column: t.column,
		Levels: t.levels,
		Counts: counts,
		Nulls:  t.nulls,
	}}, nil
}
