// Package lookup loads small reference tables used by the lookupjoin
// transform. A table is read eagerly from a two-column CSV view and held
// in memory; lookups are read-only after load, so transforms running on
// multiple workers can share one table without locking.
package lookup

import (
	"context"
	"fmt"
	"io"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
	"tabpipe/internal/source/csvsrc"
)

// Table maps string keys to values of one declared kind.
type Table struct {
	name   string
	kind   dataset.Kind
	values map[string]any
}

// LoadCSV reads the key and value columns of a CSV file into a Table.
// Extra columns in the file are ignored. Keys must be unique and non-null;
// a duplicate key is an error rather than a silent last-wins, because a
// reference table with two rows for one key is almost always a data bug.
func LoadCSV(ctx context.Context, name, path, key, value, valueKind string) (*Table, error) {
	if valueKind == "" {
		valueKind = "text"
	}
	kind, err := dataset.ParseKind(valueKind)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", name, err)
	}
	if kind == dataset.KindCategorical {
		return nil, fmt.Errorf("lookup %q: values cannot be categorical; use text", name)
	}
	schema := dataset.Schema{
		{Name: key, Kind: dataset.KindText},
		{Name: value, Kind: kind},
	}
	rd, err := csvsrc.New(path, schema, config.Options{}, nil)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", name, err)
	}
	cur, err := rd.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("lookup %q: %w", name, err)
	}
	defer cur.Close()

	t := &Table{name: name, kind: kind, values: map[string]any{}}
	for {
		chunk, err := cur.Next(ctx)
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("lookup %q: %w", name, err)
		}
		for _, row := range chunk.Rows {
			k, ok := row.V[0].(string)
			if !ok {
				chunk.Free()
				return nil, fmt.Errorf("lookup %q: null key in column %q", name, key)
			}
			if _, dup := t.values[k]; dup {
				chunk.Free()
				return nil, fmt.Errorf("lookup %q: duplicate key %q", name, k)
			}
			t.values[k] = row.V[1]
		}
		chunk.Free()
	}
}

// FromPairs builds a Table directly from key/value pairs, for callers that
// already hold the association in memory. The same rules as LoadCSV apply:
// values share one kind, keys are unique, and categorical values are
// rejected. Values are used as given and must already match the kind.
func FromPairs(name string, kind dataset.Kind, pairs map[string]any) (*Table, error) {
	if kind == dataset.KindCategorical {
		return nil, fmt.Errorf("lookup %q: values cannot be categorical; use text", name)
	}
	t := &Table{name: name, kind: kind, values: make(map[string]any, len(pairs))}
	for k, v := range pairs {
		t.values[k] = v
	}
	return t, nil
}

// Name returns the table's configured name.
func (t *Table) Name() string { return t.name }

// Kind returns the declared kind of the table's values.
func (t *Table) Kind() dataset.Kind { return t.kind }

// Get returns the value for key. A key that is present with a null value
// returns (nil, true); an absent key returns (nil, false).
func (t *Table) Get(key string) (any, bool) {
	v, ok := t.values[key]
	return v, ok
}

// Len returns the number of keys in the table.
func (t *Table) Len() int { return len(t.values) }
