package source

import (
	"fmt"
	"strconv"
	"time"

	"tabpipe/internal/dataset"
)

// CellDecoder turns one textual cell into its declared in-memory value. The
// error message is the mismatch reason; callers wrap it into a
// dataset.SchemaError with the row and column.
type CellDecoder func(cell string) (any, error)

// CompileCellDecoders resolves the kind switch once per column so the
// per-cell work is a direct call. Categorical membership uses a prebuilt
// set; timestamps capture their layout.
func CompileCellDecoders(schema dataset.Schema) []CellDecoder {
	out := make([]CellDecoder, len(schema))
	for i, col := range schema {
		out[i] = newCellDecoder(col)
	}
	return out
}

func newCellDecoder(col dataset.Column) CellDecoder {
	switch col.Kind {
	case dataset.KindNumeric:
		return func(cell string) (any, error) {
			f, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse as numeric")
			}
			return f, nil
		}
	case dataset.KindCategorical:
		set := make(map[string]struct{}, len(col.Levels))
		for _, l := range col.Levels {
			set[l] = struct{}{}
		}
		return func(cell string) (any, error) {
			if _, ok := set[cell]; !ok {
				return nil, fmt.Errorf("value not in declared levels")
			}
			return cell, nil
		}
	case dataset.KindTimestamp:
		layout := col.TimeLayout()
		return func(cell string) (any, error) {
			t, err := time.Parse(layout, cell)
			if err != nil {
				return nil, fmt.Errorf("does not match layout %q", layout)
			}
			return t.UTC(), nil
		}
	default: // text
		return func(cell string) (any, error) { return cell, nil }
	}
}
