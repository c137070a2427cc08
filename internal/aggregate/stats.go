package aggregate

import (
	"fmt"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

func init() {
	Register("stats", newStats)
}

// stats accumulates moments of one numeric column. Everything merge needs
// is a sum of something, so partials combine exactly.
type stats struct {
	name   string
	column string
	ix     int

	count, nulls int64
	sum, sumSq   float64
	min, max     float64
}

// StatsValue is the finalized stats payload. Mean, variance, min and max
// are pointers so an all-null column emits null rather than a fake zero.
type StatsValue struct {
	Column   string   `json:"column"`
	Count    int64    `json:"count"`
	Nulls    int64    `json:"nulls"`
	Sum      float64  `json:"sum"`
	Min      *float64 `json:"min"`
	Max      *float64 `json:"max"`
	Mean     *float64 `json:"mean"`
	Variance *float64 `json:"variance"`
}

func newStats(opts config.Options, schema dataset.Schema) (Aggregator, error) {
	column := opts.String("column", "")
	if column == "" {
		return nil, fmt.Errorf("aggregate: stats requires a column name")
	}
	ix, ok := schema.Index(column)
	if !ok {
		return nil, fmt.Errorf("aggregate: stats: unknown column %q", column)
	}
	if schema[ix].Kind != dataset.KindNumeric {
		return nil, fmt.Errorf("aggregate: stats: column %q is %s, not numeric", column, schema[ix].Kind)
	}
	return &stats{
		name:   opts.String("name", fmt.Sprintf("stats(%s)", column)),
		column: column,
		ix:     ix,
	}, nil
}

func (s *stats) Name() string { return s.name }

func (s *stats) Fork() Aggregator {
	return &stats{name: s.name, column: s.column, ix: s.ix}
}

func (s *stats) Update(chunk *dataset.Chunk) error {
	for _, row := range chunk.Rows {
		f, ok := row.V[s.ix].(float64)
		if !ok {
			s.nulls++
			continue
		}
		if s.count == 0 || f < s.min {
			s.min = f
		}
		if s.count == 0 || f > s.max {
			s.max = f
		}
		s.count++
		s.sum += f
		s.sumSq += f * f
	}
	return nil
}

func (s *stats) Merge(other Aggregator) error {
	o, ok := other.(*stats)
	if !ok {
		return fmt.Errorf("aggregate: cannot merge %T into stats", other)
	}
	if o.column != s.column {
		return fmt.Errorf("aggregate: merging stats over %q into stats over %q", o.column, s.column)
	}
	if o.count > 0 {
		if s.count == 0 || o.min < s.min {
			s.min = o.min
		}
		if s.count == 0 || o.max > s.max {
			s.max = o.max
		}
	}
	s.count += o.count
	s.nulls += o.nulls
	s.sum += o.sum
	s.sumSq += o.sumSq
	return nil
}

func (s *stats) Finalize() (Result, error) {
	v := StatsValue{Column: s.column, Count: s.count, Nulls: s.nulls, Sum: s.sum}
	if s.count > 0 {
		n := float64(s.count)
		mean := s.sum / n
		// Population variance; clamp tiny negative float noise to zero.
		variance := s.sumSq/n - mean*mean
		if variance < 0 {
			variance = 0
		}
		mn, mx := s.min, s.max
		v.Min, v.Max, v.Mean, v.Variance = &mn, &mx, &mean, &variance
	}
	return Result{Name: s.name, Kind: "stats", Value: v}, nil
}
