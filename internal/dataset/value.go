package dataset

import (
	"fmt"
	"strconv"
	"time"
)

// CheckValue verifies v carries the column's declared kind. nil is always
// admissible (null). Writers call this before encoding so a bug upstream
// surfaces as a clear kind error instead of a corrupt output cell.
func CheckValue(col Column, v any) error {
	if v == nil {
		return nil
	}
	switch col.Kind {
	case KindNumeric:
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("column %q: %T is not numeric", col.Name, v)
		}
	case KindCategorical:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("column %q: %T is not categorical", col.Name, v)
		}
		if col.LevelIndex(s) < 0 {
			return fmt.Errorf("column %q: value %q not in declared levels", col.Name, s)
		}
	case KindText:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("column %q: %T is not text", col.Name, v)
		}
	case KindTimestamp:
		if _, ok := v.(time.Time); !ok {
			return fmt.Errorf("column %q: %T is not a timestamp", col.Name, v)
		}
	default:
		return fmt.Errorf("column %q: unknown kind", col.Name)
	}
	return nil
}

// FormatValue renders v as delimited-text output for its column. Numeric
// cells use the shortest representation that round-trips a float64, so a
// write/read cycle under the same schema reproduces the value exactly.
// nil is the caller's problem; text sinks substitute their null marker
// before calling here.
func FormatValue(col Column, v any) (string, error) {
	if err := CheckValue(col, v); err != nil {
		return "", err
	}
	switch col.Kind {
	case KindNumeric:
		return strconv.FormatFloat(v.(float64), 'g', -1, 64), nil
	case KindTimestamp:
		return v.(time.Time).UTC().Format(col.TimeLayout()), nil
	default:
		return v.(string), nil
	}
}
