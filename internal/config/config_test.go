package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// -----------------------------------------------------------------------------
// Pipeline decoding tests
// -----------------------------------------------------------------------------
//
// These tests validate that the pipeline JSON structure decodes into the
// intended Go struct graph. We parse from JSON strings to keep tests hermetic
// and focused on the API surface rather than filesystem wiring.

const sampleDoc = `{
  "name": "orders_daily",
  "source": {"kind": "csv", "location": "orders.csv",
             "options": {"header": true, "delimiter": ";", "null_markers": ["", "NA"]}},
  "schema": {"columns": [
    {"name": "amount", "kind": "numeric"},
    {"name": "day", "kind": "categorical", "levels": ["mon", "tue", "wed", "thu", "fri"]},
    {"name": "at", "kind": "timestamp", "layout": "2006-01-02"}
  ]},
  "selection": [{"column": "amount", "op": "gt", "value": 0}],
  "transforms": [{"kind": "derive",
                  "options": {"dest": "amount_doubled", "source": "amount", "op": "mul", "operand": 2}}],
  "sink": {"kind": "csvfile", "mode": "overwrite", "location": "out.csv"},
  "runtime": {"chunk_rows": 2, "workers": 2, "timeout": "30s"}
}`

/*
TestParse decodes a representative document and spot-checks every section,
including options bags reachable through the typed accessors.
*/
func TestParse(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(sampleDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "orders_daily" {
		t.Fatalf("Name=%q", p.Name)
	}
	if p.Source.Kind != "csv" || p.Source.Location != "orders.csv" {
		t.Fatalf("Source=%+v", p.Source)
	}
	if got := p.Source.Options.Rune("delimiter", ','); got != ';' {
		t.Fatalf("delimiter=%q; want ';'", got)
	}
	if got := p.Source.Options.StringSlice("null_markers"); len(got) != 2 || got[1] != "NA" {
		t.Fatalf("null_markers=%v", got)
	}
	if len(p.Schema.Columns) != 3 || p.Schema.Columns[1].Levels[4] != "fri" {
		t.Fatalf("Schema=%+v", p.Schema)
	}
	if len(p.Selection) != 1 || p.Selection[0].Op != "gt" {
		t.Fatalf("Selection=%+v", p.Selection)
	}
	if p.Transforms[0].Options.Float("operand", 0) != 2 {
		t.Fatalf("operand=%v", p.Transforms[0].Options.Any("operand"))
	}
	if p.Sink.Mode != "overwrite" {
		t.Fatalf("Sink=%+v", p.Sink)
	}
	if p.Runtime.ChunkRows != 2 || p.Runtime.Timeout != "30s" {
		t.Fatalf("Runtime=%+v", p.Runtime)
	}
}

/*
TestParse_UnknownField verifies typos fail the decode instead of silently
configuring nothing.
*/
func TestParse_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`{"naem": "x"}`))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
	if !strings.Contains(err.Error(), "naem") {
		t.Fatalf("error %q does not name the field", err)
	}
}

/*
TestLoad verifies the disk path wraps read and decode failures with the file
name.
*/
func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "p.json")
	if err := os.WriteFile(path, []byte(sampleDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}

// -----------------------------------------------------------------------------
// Options accessor tests
// -----------------------------------------------------------------------------

/*
TestOptions_Accessors exercises each typed accessor: present values, absent
keys falling back to defaults, and wrong-typed values falling back rather
than panicking.
*/
func TestOptions_Accessors(t *testing.T) {
	t.Parallel()

	o := Options{
		"s":    "str",
		"b":    true,
		"n":    float64(7),
		"f":    2.5,
		"r":    "|x",
		"m":    map[string]any{"a": "1", "bad": 2},
		"list": []any{"x", "y"},
	}

	if got := o.String("s", "d"); got != "str" {
		t.Fatalf("String=%q", got)
	}
	if got := o.String("missing", "d"); got != "d" {
		t.Fatalf("String default=%q", got)
	}
	if !o.Bool("b", false) || o.Bool("s", false) {
		t.Fatal("Bool mis-read")
	}
	if got := o.Int("n", 0); got != 7 {
		t.Fatalf("Int=%d", got)
	}
	if got := o.Float("f", 0); got != 2.5 {
		t.Fatalf("Float=%v", got)
	}
	if got := o.Rune("r", ','); got != '|' {
		t.Fatalf("Rune=%q", got)
	}
	m := o.StringMap("m")
	if m["a"] != "1" {
		t.Fatalf("StringMap=%v", m)
	}
	if _, bad := m["bad"]; bad {
		t.Fatalf("StringMap kept non-string value: %v", m)
	}
	if got := o.StringSlice("list"); len(got) != 2 || got[0] != "x" {
		t.Fatalf("StringSlice=%v", got)
	}
	if o.Any("missing") != nil || !o.Has("s") || o.Has("missing") {
		t.Fatal("Any/Has mis-read")
	}
}

/*
TestOptions_NullDecodes verifies a missing or null options object decodes to
a usable empty map, never nil.
*/
func TestOptions_NullDecodes(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`{"source": {"kind": "csv", "location": "x", "options": null}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Source.Options == nil {
		t.Fatal("null options decoded to nil map")
	}
	if got := p.Source.Options.Int("chunk_rows", 1024); got != 1024 {
		t.Fatalf("default through empty options=%d", got)
	}
}
