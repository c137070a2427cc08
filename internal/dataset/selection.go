package dataset

import (
	"fmt"
	"strings"
	"time"
)

// Selection is one row-selection clause. A list of selections is conjunctive:
// a row survives only when every clause holds. Selection is the sole way rows
// leave a pipeline; transforms never change row count.
type Selection struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

// RowPredicate reports whether a row matches. A null cell never matches any
// clause; that is a drop, not an error.
type RowPredicate func(r *Row) bool

// selectionOps lists the supported clause operators.
var selectionOps = map[string]struct{}{
	"eq": {}, "ne": {}, "gt": {}, "ge": {}, "lt": {}, "le": {}, "in": {},
}

// CompileSelection resolves column indexes and value comparisons once, up
// front, so the per-row test is a plain closure. All clause problems (unknown
// column, unsupported op, value of the wrong kind, categorical value outside
// the declared levels) surface here, before any data is read.
//
// An empty selection compiles to a nil predicate; callers treat nil as
// "keep everything".
func CompileSelection(schema Schema, sels []Selection) (RowPredicate, error) {
	if len(sels) == 0 {
		return nil, nil
	}
	preds := make([]RowPredicate, 0, len(sels))
	for _, sel := range sels {
		p, err := compileClause(schema, sel)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return func(r *Row) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}, nil
}

func compileClause(schema Schema, sel Selection) (RowPredicate, error) {
	if _, ok := selectionOps[sel.Op]; !ok {
		return nil, fmt.Errorf("selection: column %q: unsupported op %q", sel.Column, sel.Op)
	}
	ix, ok := schema.Index(sel.Column)
	if !ok {
		return nil, fmt.Errorf("selection: unknown column %q", sel.Column)
	}
	col := schema[ix]

	switch col.Kind {
	case KindNumeric:
		return compileNumericClause(ix, col, sel)
	case KindCategorical:
		return compileCategoricalClause(ix, col, sel)
	case KindText:
		return compileTextClause(ix, col, sel)
	case KindTimestamp:
		return compileTimestampClause(ix, col, sel)
	default:
		return nil, fmt.Errorf("selection: column %q: unknown kind", sel.Column)
	}
}

func compileNumericClause(ix int, col Column, sel Selection) (RowPredicate, error) {
	if sel.Op == "in" {
		set, err := numberSet(sel.Value)
		if err != nil {
			return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
		}
		return func(r *Row) bool {
			f, ok := r.V[ix].(float64)
			if !ok {
				return false
			}
			_, hit := set[f]
			return hit
		}, nil
	}
	want, err := asNumber(sel.Value)
	if err != nil {
		return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
	}
	cmp, err := compareOp(sel.Op)
	if err != nil {
		return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
	}
	return func(r *Row) bool {
		f, ok := r.V[ix].(float64)
		if !ok {
			return false
		}
		switch {
		case f < want:
			return cmp(-1)
		case f > want:
			return cmp(1)
		default:
			return cmp(0)
		}
	}, nil
}

// Categorical clauses order by declared level position, not lexically; the
// level set is the column's value order.
func compileCategoricalClause(ix int, col Column, sel Selection) (RowPredicate, error) {
	if sel.Op == "in" {
		vals, err := stringList(sel.Value)
		if err != nil {
			return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
		}
		set := make(map[string]struct{}, len(vals))
		for _, v := range vals {
			if col.LevelIndex(v) < 0 {
				return nil, fmt.Errorf("selection: column %q: value %q is not a declared level", col.Name, v)
			}
			set[v] = struct{}{}
		}
		return func(r *Row) bool {
			s, ok := r.V[ix].(string)
			if !ok {
				return false
			}
			_, hit := set[s]
			return hit
		}, nil
	}
	want, ok := sel.Value.(string)
	if !ok {
		return nil, fmt.Errorf("selection: column %q: value %v is not a string", col.Name, sel.Value)
	}
	wantIx := col.LevelIndex(want)
	if wantIx < 0 {
		return nil, fmt.Errorf("selection: column %q: value %q is not a declared level", col.Name, want)
	}
	cmp, err := compareOp(sel.Op)
	if err != nil {
		return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
	}
	return func(r *Row) bool {
		s, ok := r.V[ix].(string)
		if !ok {
			return false
		}
		gotIx := col.LevelIndex(s)
		if gotIx < 0 {
			return false
		}
		switch {
		case gotIx < wantIx:
			return cmp(-1)
		case gotIx > wantIx:
			return cmp(1)
		default:
			return cmp(0)
		}
	}, nil
}

func compileTextClause(ix int, col Column, sel Selection) (RowPredicate, error) {
	if sel.Op == "in" {
		vals, err := stringList(sel.Value)
		if err != nil {
			return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
		}
		set := make(map[string]struct{}, len(vals))
		for _, v := range vals {
			set[v] = struct{}{}
		}
		return func(r *Row) bool {
			s, ok := r.V[ix].(string)
			if !ok {
				return false
			}
			_, hit := set[s]
			return hit
		}, nil
	}
	want, ok := sel.Value.(string)
	if !ok {
		return nil, fmt.Errorf("selection: column %q: value %v is not a string", col.Name, sel.Value)
	}
	cmp, err := compareOp(sel.Op)
	if err != nil {
		return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
	}
	return func(r *Row) bool {
		s, ok := r.V[ix].(string)
		if !ok {
			return false
		}
		return cmp(strings.Compare(s, want))
	}, nil
}

func compileTimestampClause(ix int, col Column, sel Selection) (RowPredicate, error) {
	parse := func(v any) (time.Time, error) {
		s, ok := v.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("value %v is not a timestamp string", v)
		}
		t, err := time.Parse(col.TimeLayout(), s)
		if err != nil {
			return time.Time{}, fmt.Errorf("value %q does not match layout %q", s, col.TimeLayout())
		}
		return t.UTC(), nil
	}
	if sel.Op == "in" {
		raw, ok := sel.Value.([]any)
		if !ok {
			return nil, fmt.Errorf("selection: column %q: in wants an array", col.Name)
		}
		set := make(map[int64]struct{}, len(raw))
		for _, v := range raw {
			t, err := parse(v)
			if err != nil {
				return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
			}
			set[t.UnixMicro()] = struct{}{}
		}
		return func(r *Row) bool {
			t, ok := r.V[ix].(time.Time)
			if !ok {
				return false
			}
			_, hit := set[t.UnixMicro()]
			return hit
		}, nil
	}
	want, err := parse(sel.Value)
	if err != nil {
		return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
	}
	cmp, err := compareOp(sel.Op)
	if err != nil {
		return nil, fmt.Errorf("selection: column %q: %w", col.Name, err)
	}
	return func(r *Row) bool {
		t, ok := r.V[ix].(time.Time)
		if !ok {
			return false
		}
		switch {
		case t.Before(want):
			return cmp(-1)
		case t.After(want):
			return cmp(1)
		default:
			return cmp(0)
		}
	}, nil
}

// compareOp maps an op name to a test over the three-way comparison result.
func compareOp(op string) (func(c int) bool, error) {
	switch op {
	case "eq":
		return func(c int) bool { return c == 0 }, nil
	case "ne":
		return func(c int) bool { return c != 0 }, nil
	case "gt":
		return func(c int) bool { return c > 0 }, nil
	case "ge":
		return func(c int) bool { return c >= 0 }, nil
	case "lt":
		return func(c int) bool { return c < 0 }, nil
	case "le":
		return func(c int) bool { return c <= 0 }, nil
	default:
		return nil, fmt.Errorf("unsupported op %q", op)
	}
}

// asNumber accepts the numeric shapes JSON decoding and Go callers produce.
func asNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("value %v is not a number", v)
	}
}

func numberSet(v any) (map[float64]struct{}, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("in wants an array")
	}
	set := make(map[float64]struct{}, len(raw))
	for _, x := range raw {
		f, err := asNumber(x)
		if err != nil {
			return nil, err
		}
		set[f] = struct{}{}
	}
	return set, nil
}

func stringList(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("in wants strings, got %v", x)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("in wants an array")
	}
}
