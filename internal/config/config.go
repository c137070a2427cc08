// Package config defines the canonical, JSON-serializable model for a
// pipeline run. It is intentionally small, explicit, and dependency-free so
// documents can be loaded from disk and passed through the program without
// glue code, and so that nothing about a run is ambient: the source, the
// declared schema, the row selection, the transform chain, the sink, and the
// runtime knobs all live in one explicit object.
//
// Column kinds are declared here by the caller. They are never inferred from
// the data; a value that does not fit its declaration is a schema mismatch at
// run time, not a reason to adapt.
//
// Example (trimmed):
//
//	{
//	  "name":   "orders_daily",
//	  "source": { "kind": "csv", "location": "orders.csv" },
//	  "schema": { "columns": [
//	    { "name": "amount", "kind": "numeric" },
//	    { "name": "day", "kind": "categorical", "levels": ["mon","tue","wed"] }
//	  ]},
//	  "selection":  [ { "column": "amount", "op": "gt", "value": 0 } ],
//	  "transforms": [ { "kind": "derive", "options": { "dest": "amount_doubled",
//	                    "source": "amount", "op": "mul", "operand": 2 } } ],
//	  "sink": { "kind": "csvfile", "mode": "overwrite", "location": "out.csv" }
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Pipeline is the top-level document describing one batch run.
type Pipeline struct {
	// Name identifies the run in logs and metrics labels.
	Name string `json:"name"`

	// Source says where chunks come from and how to decode them.
	Source Source `json:"source"`

	// Schema declares the input columns. Required; readers check data
	// against it eagerly.
	Schema Declared `json:"schema"`

	// Selection lists conjunctive row-selection clauses pushed down into
	// the reader. Selection is the only mechanism that removes rows.
	Selection []Selection `json:"selection"`

	// Transforms is the ordered chain of pure chunk transforms.
	Transforms []Step `json:"transforms"`

	// Lookups declares read-only key/value tables available to transforms.
	Lookups []Lookup `json:"lookups"`

	// Models names externally registered predictors available to the
	// "predict" transform. The algorithms behind them are opaque here.
	Models []Model `json:"models"`

	// Sink is the output dataset. A run must have a sink, aggregates, or
	// both.
	Sink Sink `json:"sink"`

	// Aggregate lists the statistics folded over transformed chunks.
	Aggregate []Step `json:"aggregate"`

	// Runtime holds chunking, concurrency, and batching knobs.
	Runtime Runtime `json:"runtime"`
}

// Source identifies the input dataset.
type Source struct {
	// Kind selects the reader: "csv", "jsonl", or "chunkfile".
	Kind string `json:"kind"`

	// Location is a local path or an http(s) URL.
	Location string `json:"location"`

	// Options is a free-form map interpreted by the reader. For CSV,
	// typical keys: header (bool), delimiter (string), trim_space (bool),
	// null_markers ([]string), header_map (object).
	Options Options `json:"options"`
}

// Declared is the caller-declared input schema.
type Declared struct {
	Columns []Column `json:"columns"`
}

// Column declares one input column.
type Column struct {
	Name string `json:"name"`

	// Kind is one of "numeric", "categorical", "text", "timestamp".
	Kind string `json:"kind"`

	// Levels is the closed value set for categorical columns, in order.
	Levels []string `json:"levels,omitempty"`

	// Layout is the time.Parse layout for timestamp columns; empty means
	// RFC 3339.
	Layout string `json:"layout,omitempty"`
}

// Selection is one row-selection clause; clauses AND together.
type Selection struct {
	Column string `json:"column"`
	Op     string `json:"op"` // eq, ne, gt, ge, lt, le, in
	Value  any    `json:"value"`
}

// Step configures one transform or one aggregate by kind plus an options bag
// whose shape the implementation defines.
type Step struct {
	Kind    string  `json:"kind"`
	Options Options `json:"options"`
}

// Lookup declares a read-only auxiliary table loaded before the run.
type Lookup struct {
	// Name is how transforms refer to the table.
	Name string `json:"name"`

	// Path is the CSV file holding the pairs.
	Path string `json:"path"`

	// Key and Value name the two columns to load.
	Key   string `json:"key"`
	Value string `json:"value"`

	// ValueKind declares the value column's kind (default "text").
	ValueKind string `json:"value_kind"`
}

// Model binds a name usable by the "predict" transform to an externally
// registered model kind.
type Model struct {
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	Options Options `json:"options"`
}

// Sink identifies the output dataset.
type Sink struct {
	// Kind selects the writer: "csvfile", "chunkfile", "sqlite",
	// "postgres", "mssql", or "mysql".
	Kind string `json:"kind"`

	// Mode is "overwrite" (default; all-or-nothing replace) or "append".
	Mode string `json:"mode"`

	// Location is the destination path for file sinks.
	Location string `json:"location"`

	// DSN and Table configure database sinks.
	DSN   string `json:"dsn"`
	Table string `json:"table"`

	// Options is a free-form map interpreted by the writer (delimiter,
	// null_marker, auto_create, ...).
	Options Options `json:"options"`
}

// Runtime controls chunking, concurrency, and batching. Zero values mean
// "use the default" (chunk_rows 1024, workers 1, batch_rows 500,
// progress_every 5s, no timeout).
type Runtime struct {
	ChunkRows int `json:"chunk_rows"`
	Workers   int `json:"workers"`
	BatchRows int `json:"batch_rows"`

	// Timeout bounds the whole run; a Go duration string, "" = none.
	Timeout string `json:"timeout"`

	// ProgressEvery is the progress log interval; a Go duration string.
	ProgressEvery string `json:"progress_every"`
}

// Load reads and decodes a pipeline document from disk.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	p, err := Parse(b)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a pipeline document. Unknown fields are rejected so typos
// fail loudly instead of silently configuring nothing.
func Parse(b []byte) (Pipeline, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p Pipeline
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode: %w", err)
	}
	return p, nil
}

// Options is a small helper to fetch typed values from arbitrary JSON maps
// without a third-party configuration library. It performs only minimal type
// coercion and returns the provided default when a key is absent or of an
// unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. encoding/json decodes numbers as
// float64, so float64 is accepted and truncated.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Float returns the float64 value for key or def.
func (o Options) Float(key string, def float64) float64 {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def. Useful for
// single-character settings such as a delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// with string values. Non-string values are ignored. Missing keys yield an
// empty map.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of
// strings. Missing keys yield nil.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Any returns the raw value for key, which may be a nested map, an array, or
// a primitive. Useful for blocks the caller unmarshals into its own struct.
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// Has reports whether key is present at all, letting callers distinguish an
// explicit value from an omitted one.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// UnmarshalJSON decodes a missing or null options object to a non-nil empty
// map so call sites never nil-check.
func (o *Options) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	var tmp map[string]any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
