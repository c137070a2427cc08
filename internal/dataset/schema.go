package dataset

import (
	"fmt"
	"time"
)

// DefaultTimeLayout is the timestamp parse/format layout used when a column
// does not declare its own.
const DefaultTimeLayout = time.RFC3339

// Column is one declared column of a dataset. The declaration is fixed for
// the duration of a run; readers check incoming data against it eagerly and
// report any violation as a schema mismatch rather than adapting to the data.
type Column struct {
	// Name is the column's identifier within the schema. Required, unique.
	Name string `json:"name"`

	// Kind is the declared value kind.
	Kind Kind `json:"kind"`

	// Levels is the closed set of admissible values for a categorical
	// column, in declaration order. Order matters: aggregation results and
	// the binary chunk format index levels by position.
	Levels []string `json:"levels,omitempty"`

	// Layout is the time.Parse/Format layout for a timestamp column.
	// Empty means DefaultTimeLayout.
	Layout string `json:"layout,omitempty"`
}

// TimeLayout returns the effective timestamp layout for the column.
func (c Column) TimeLayout() string {
	if c.Layout != "" {
		return c.Layout
	}
	return DefaultTimeLayout
}

// LevelIndex returns the position of v in the declared level set, or -1.
func (c Column) LevelIndex(v string) int {
	for i, l := range c.Levels {
		if l == v {
			return i
		}
	}
	return -1
}

// Schema is the ordered list of declared columns. Row slots are positional:
// slot i of a Row holds the value of column i.
type Schema []Column

// Index returns the position of the named column and whether it exists.
func (s Schema) Index(name string) (int, bool) {
	for i, c := range s {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Validate checks the declaration itself: names present and unique,
// categorical columns carry a non-empty, duplicate-free level set, and
// level/layout fields appear only on the kinds that use them.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("schema: no columns declared")
	}
	seen := make(map[string]struct{}, len(s))
	for i, c := range s {
		if c.Name == "" {
			return fmt.Errorf("schema: column %d has no name", i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("schema: duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		switch c.Kind {
		case KindNumeric, KindText:
			if len(c.Levels) > 0 {
				return fmt.Errorf("schema: column %q: levels declared on %s column", c.Name, c.Kind)
			}
		case KindCategorical:
			if len(c.Levels) == 0 {
				return fmt.Errorf("schema: column %q: categorical column needs levels", c.Name)
			}
			lvls := make(map[string]struct{}, len(c.Levels))
			for _, l := range c.Levels {
				if _, dup := lvls[l]; dup {
					return fmt.Errorf("schema: column %q: duplicate level %q", c.Name, l)
				}
				lvls[l] = struct{}{}
			}
		case KindTimestamp:
			if len(c.Levels) > 0 {
				return fmt.Errorf("schema: column %q: levels declared on timestamp column", c.Name)
			}
		default:
			return fmt.Errorf("schema: column %q: unknown kind", c.Name)
		}
		if c.Layout != "" && c.Kind != KindTimestamp {
			return fmt.Errorf("schema: column %q: layout declared on %s column", c.Name, c.Kind)
		}
	}
	return nil
}

// Equal reports whether two schemas declare the same columns in the same
// order, including level sets and layouts.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		a, b := s[i], other[i]
		if a.Name != b.Name || a.Kind != b.Kind || a.Layout != b.Layout {
			return false
		}
		if len(a.Levels) != len(b.Levels) {
			return false
		}
		for j := range a.Levels {
			if a.Levels[j] != b.Levels[j] {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy; level slices are not shared.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	copy(out, s)
	for i := range out {
		if len(out[i].Levels) > 0 {
			lv := make([]string, len(out[i].Levels))
			copy(lv, out[i].Levels)
			out[i].Levels = lv
		}
	}
	return out
}

// WithColumn returns a copy of the schema extended by col. Adding a column
// that already exists is an error; transforms use this to bind their output
// schema before any chunk flows.
func (s Schema) WithColumn(col Column) (Schema, error) {
	if col.Name == "" {
		return nil, fmt.Errorf("schema: new column has no name")
	}
	if _, exists := s.Index(col.Name); exists {
		return nil, fmt.Errorf("schema: column %q already exists", col.Name)
	}
	out := s.Clone()
	out = append(out, col)
	return out, out.Validate()
}
