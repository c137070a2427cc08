package aggregate

import (
	"fmt"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

func init() {
	Register("crosstab", newCrosstab)
}

// crosstab counts co-occurrences of two categorical columns into a dense
// matrix sized by the declared level sets. Rows with a null in either
// column are counted once under Nulls and appear in no cell.
type crosstab struct {
	name       string
	rowCol     string
	colCol     string
	rowIx      int
	colIx      int
	rowLevels  []string
	colLevels  []string
	rowPos     map[string]int
	colPos     map[string]int

	counts [][]int64
	nulls  int64
}

// CrosstabValue is the finalized matrix; Counts[i][j] pairs RowLevels[i]
// with ColLevels[j].
type CrosstabValue struct {
	Rows      string    `json:"rows"`
	Cols      string    `json:"cols"`
	RowLevels []string  `json:"row_levels"`
	ColLevels []string  `json:"col_levels"`
	Counts    [][]int64 `json:"counts"`
	Nulls     int64     `json:"nulls"`
}

func newCrosstab(opts config.Options, schema dataset.Schema) (Aggregator, error) {
	rowCol := opts.String("rows", "")
	colCol := opts.String("cols", "")
	rowIx, rowPos, err := categoricalColumn(schema, rowCol, "crosstab")
	if err != nil {
		return nil, err
	}
	colIx, colPos, err := categoricalColumn(schema, colCol, "crosstab")
	if err != nil {
		return nil, err
	}
	ct := &crosstab{
		name:      opts.String("name", fmt.Sprintf("crosstab(%s,%s)", rowCol, colCol)),
		rowCol:    rowCol,
		colCol:    colCol,
		rowIx:     rowIx,
		colIx:     colIx,
		rowLevels: schema[rowIx].Levels,
		colLevels: schema[colIx].Levels,
		rowPos:    rowPos,
		colPos:    colPos,
	}
	ct.counts = zeroMatrix(len(ct.rowLevels), len(ct.colLevels))
	return ct, nil
}

func zeroMatrix(r, c int) [][]int64 {
	m := make([][]int64, r)
	for i := range m {
		m[i] = make([]int64, c)
	}
	return m
}

func (ct *crosstab) Name() string { return ct.name }

func (ct *crosstab) Fork() Aggregator {
	f := *ct
	f.counts = zeroMatrix(len(ct.rowLevels), len(ct.colLevels))
	f.nulls = 0
	return &f
}

func (ct *crosstab) Update(chunk *dataset.Chunk) error {
	for _, row := range chunk.Rows {
		u, uok := row.V[ct.rowIx].(string)
		v, vok := row.V[ct.colIx].(string)
		if !uok || !vok {
			ct.nulls++
			continue
		}
		i, ok := ct.rowPos[u]
		if !ok {
			return fmt.Errorf("aggregate: crosstab: %q is not a declared level of %q", u, ct.rowCol)
		}
		j, ok := ct.colPos[v]
		if !ok {
			return fmt.Errorf("aggregate: crosstab: %q is not a declared level of %q", v, ct.colCol)
		}
		ct.counts[i][j]++
	}
	return nil
}

func (ct *crosstab) Merge(other Aggregator) error {
	o, ok := other.(*crosstab)
	if !ok {
		return fmt.Errorf("aggregate: cannot merge %T into crosstab", other)
	}
	if o.rowCol != ct.rowCol || o.colCol != ct.colCol {
		return fmt.Errorf("aggregate: merging crosstab(%s,%s) into crosstab(%s,%s)", o.rowCol, o.colCol, ct.rowCol, ct.colCol)
	}
	for i := range ct.counts {
		for j := range ct.counts[i] {
			ct.counts[i][j] += o.counts[i][j]
		}
	}
	ct.nulls += o.nulls
	return nil
}

func (ct *crosstab) Finalize() (Result, error) {
	counts := zeroMatrix(len(ct.rowLevels), len(ct.colLevels))
	for i := range ct.counts {
		copy(counts[i], ct.counts[i])
	}
	return Result{Name: ct.name, Kind: "crosstab", Value: CrosstabValue{
		Rows:      ct.rowCol,
		Cols:      ct.colCol,
		RowLevels: ct.rowLevels,
		ColLevels: ct.colLevels,
		Counts:    counts,
		Nulls:     ct.nulls,
	}}, nil
}
