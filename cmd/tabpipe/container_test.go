package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
	"tabpipe/internal/sink"
)

/*
TestSchemaFromSpec checks that declared columns materialize with their
kinds, levels and layouts intact, and that a bad kind names the offending
column instead of failing somewhere downstream.
*/
func TestSchemaFromSpec(t *testing.T) {
	t.Parallel()

	schema, err := schemaFromSpec(config.Declared{Columns: []config.Column{
		{Name: "amount", Kind: "numeric"},
		{Name: "day", Kind: "categorical", Levels: []string{"mon", "tue"}},
		{Name: "at", Kind: "timestamp", Layout: "2006-01-02"},
	}})
	if err != nil {
		t.Fatalf("schemaFromSpec: %v", err)
	}
	if len(schema) != 3 {
		t.Fatalf("got %d columns, want 3", len(schema))
	}
	if schema[0].Kind != dataset.KindNumeric || schema[1].Kind != dataset.KindCategorical || schema[2].Kind != dataset.KindTimestamp {
		t.Fatalf("kinds: %v %v %v", schema[0].Kind, schema[1].Kind, schema[2].Kind)
	}
	if len(schema[1].Levels) != 2 || schema[2].Layout != "2006-01-02" {
		t.Fatalf("levels/layout not carried: %+v", schema)
	}

	_, err = schemaFromSpec(config.Declared{Columns: []config.Column{
		{Name: "x", Kind: "integer"},
	}})
	if err == nil || !strings.Contains(err.Error(), `column "x"`) {
		t.Fatalf("bad kind: %v", err)
	}
}

/*
TestSourceOptions checks the chunk-size precedence: an explicit source
option wins over runtime.chunk_rows, and the document's own options bag is
never mutated.
*/
func TestSourceOptions(t *testing.T) {
	t.Parallel()

	p := config.Pipeline{Runtime: config.Runtime{ChunkRows: 512}}
	opt := sourceOptions(p)
	if got := opt.Int("chunk_rows", 0); got != 512 {
		t.Fatalf("chunk_rows = %d, want 512 from runtime", got)
	}

	p.Source.Options = config.Options{"chunk_rows": float64(64)}
	opt = sourceOptions(p)
	if got := opt.Int("chunk_rows", 0); got != 64 {
		t.Fatalf("chunk_rows = %d, want source option 64 to win", got)
	}

	p = config.Pipeline{Source: config.Source{Options: config.Options{"header": false}}}
	opt = sourceOptions(p)
	if opt.Has("chunk_rows") {
		t.Fatal("chunk_rows set with no runtime value")
	}
	opt["chunk_rows"] = float64(1)
	if p.Source.Options.Has("chunk_rows") {
		t.Fatal("document options were mutated")
	}
}

/*
TestTransformsFromSpec_SchemaFolding builds a chain where the second step
consumes the first step's output column, which only works if the schema is
folded between steps.
*/
func TestTransformsFromSpec_SchemaFolding(t *testing.T) {
	t.Parallel()

	base := dataset.Schema{{Name: "amount", Kind: dataset.KindNumeric}}
	steps := []config.Step{
		{Kind: "derive", Options: config.Options{"dest": "d1", "source": "amount", "op": "mul", "operand": float64(2)}},
		{Kind: "derive", Options: config.Options{"dest": "d2", "source": "d1", "op": "add", "operand": float64(1)}},
	}
	transforms, out, err := transformsFromSpec(steps, base)
	if err != nil {
		t.Fatalf("transformsFromSpec: %v", err)
	}
	if len(transforms) != 2 {
		t.Fatalf("got %d transforms, want 2", len(transforms))
	}
	if want := []string{"amount", "d1", "d2"}; len(out) != 3 || out[1].Name != want[1] || out[2].Name != want[2] {
		t.Fatalf("out schema %v, want %v", out.Names(), want)
	}

	steps[1].Options["source"] = "missing"
	_, _, err = transformsFromSpec(steps, base)
	if err == nil || !strings.Contains(err.Error(), "transforms[1]") {
		t.Fatalf("error should name the failing step: %v", err)
	}
}

func TestSinkFromSpec(t *testing.T) {
	t.Parallel()

	p := config.Pipeline{Sink: config.Sink{Kind: "csvfile", Mode: "append", Location: "out.csv"}}
	w, mode, err := sinkFromSpec(p)
	if err != nil {
		t.Fatalf("sinkFromSpec: %v", err)
	}
	if w == nil || mode != sink.Append {
		t.Fatalf("writer=%v mode=%v", w, mode)
	}

	p.Sink.Mode = "merge"
	if _, _, err := sinkFromSpec(p); err == nil || !strings.Contains(err.Error(), `"merge"`) {
		t.Fatalf("bad mode: %v", err)
	}

	p.Sink = config.Sink{Kind: "parquet", Location: "out"}
	if _, _, err := sinkFromSpec(p); err == nil || !strings.Contains(err.Error(), "parquet") {
		t.Fatalf("unknown kind: %v", err)
	}
}

func TestReaderFromSpec_UnknownKind(t *testing.T) {
	t.Parallel()

	p := config.Pipeline{Source: config.Source{Kind: "xml", Location: "in.xml"}}
	_, err := readerFromSpec(p, dataset.Schema{{Name: "a", Kind: dataset.KindText}}, nil)
	if err == nil || !strings.Contains(err.Error(), `unsupported source.kind="xml"`) {
		t.Fatalf("unknown source kind: %v", err)
	}
}

/*
TestContextFromSpec loads a real lookup table and fits a declared model,
then checks the failure paths name the component that broke.
*/
func TestContextFromSpec(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "zones.csv")
	if err := os.WriteFile(path, []byte("zone,borough\nJFK,Queens\nEWR,Newark\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := config.Pipeline{
		Lookups: []config.Lookup{{Name: "zones", Path: path, Key: "zone", Value: "borough"}},
		Models:  []config.Model{{Name: "base", Kind: "linear", Options: config.Options{"weights": []any{float64(2)}, "intercept": float64(1)}}},
	}
	tc, err := contextFromSpec(ctx, p)
	if err != nil {
		t.Fatalf("contextFromSpec: %v", err)
	}
	if tbl, ok := tc.Lookup("zones"); !ok || tbl.Len() != 2 {
		t.Fatalf("zones table not loaded: %v %v", tbl, ok)
	}
	m, ok := tc.Model("base")
	if !ok {
		t.Fatal("model not bound")
	}
	preds, err := m.Predict(ctx, [][]float64{{3}})
	if err != nil || len(preds) != 1 || preds[0] != 7 {
		t.Fatalf("predict = %v, %v; want [7]", preds, err)
	}

	p.Lookups[0].Path = filepath.Join(dir, "missing.csv")
	if _, err := contextFromSpec(ctx, p); err == nil || !strings.Contains(err.Error(), `lookup "zones"`) {
		t.Fatalf("missing lookup: %v", err)
	}

	p.Lookups = nil
	p.Models[0].Kind = "forest"
	if _, err := contextFromSpec(ctx, p); err == nil || !strings.Contains(err.Error(), `model "base"`) {
		t.Fatalf("unknown model kind: %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	if got := runTimeout(2*time.Second, "5s"); got != 2*time.Second {
		t.Fatalf("flag should win: %v", got)
	}
	if got := runTimeout(0, "5s"); got != 5*time.Second {
		t.Fatalf("document fallback: %v", got)
	}
	if got := runTimeout(0, ""); got != 0 {
		t.Fatalf("no timeout: %v", got)
	}
}
