package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tabpipe/internal/aggregate"
	"tabpipe/internal/config"
	"tabpipe/internal/pipeline"
)

func writeTemp(tb testing.TB, dir, name, data string) string {
	tb.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		tb.Fatalf("write %s: %v", name, err)
	}
	return p
}

// parseDocument decodes and lints a document the same way main does,
// failing the test on any error-severity issue.
func parseDocument(tb testing.TB, doc string) config.Pipeline {
	tb.Helper()
	p, err := config.Parse([]byte(doc))
	if err != nil {
		tb.Fatalf("parse document: %v", err)
	}
	for _, iss := range config.ValidatePipeline(p) {
		if iss.Severity == config.SeverityError {
			tb.Fatalf("document does not lint: %v", iss)
		}
	}
	return p
}

/*
TestRunFromDocument_CSVToCSV drives the binary's whole assembly path from a
JSON document: selection pushed into the reader, a lookup join, a derived
column, a model prediction, a CSV destination, and a stats aggregate, with
two workers over two-row chunks.
*/
func TestRunFromDocument_CSVToCSV(t *testing.T) {
	dir := t.TempDir()
	in := writeTemp(t, dir, "trips.csv",
		"amount,zone\n10.5,JFK\n-3,EWR\n4,JFK\n2.5,LGA\n6,EWR\n")
	zones := writeTemp(t, dir, "zones.csv",
		"zone,borough\nJFK,Queens\nLGA,Queens\nEWR,Newark\n")
	out := filepath.Join(dir, "enriched.csv")

	doc := fmt.Sprintf(`{
  "name": "trips_enriched",
  "source": {"kind": "csv", "location": "%s"},
  "schema": {"columns": [
    {"name": "amount", "kind": "numeric"},
    {"name": "zone", "kind": "text"}
  ]},
  "selection": [{"column": "amount", "op": "gt", "value": 0}],
  "transforms": [
    {"kind": "lookupjoin", "options": {"dest": "borough", "key": "zone", "table": "zones"}},
    {"kind": "derive", "options": {"dest": "amount_doubled", "source": "amount", "op": "mul", "operand": 2}},
    {"kind": "predict", "options": {"dest": "fare_estimate", "model": "base", "features": ["amount"]}}
  ],
  "lookups": [{"name": "zones", "path": "%s", "key": "zone", "value": "borough"}],
  "models": [{"name": "base", "kind": "linear", "options": {"weights": [2], "intercept": 1}}],
  "sink": {"kind": "csvfile", "mode": "overwrite", "location": "%s"},
  "aggregate": [{"kind": "stats", "options": {"column": "amount_doubled"}}],
  "runtime": {"chunk_rows": 2, "workers": 2, "progress_every": "1h"}
}`, in, zones, out)

	p := parseDocument(t, doc)
	spec, err := buildSpec(context.Background(), p)
	if err != nil {
		t.Fatalf("buildSpec: %v", err)
	}
	if spec.Job != "trips_enriched" || spec.Workers != 2 || len(spec.Transforms) != 3 || len(spec.Aggs) != 1 {
		t.Fatalf("spec assembly: %+v", spec)
	}

	res, err := pipeline.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "amount,zone,borough,amount_doubled,fare_estimate\n" +
		"10.5,JFK,Queens,21,22\n" +
		"4,JFK,Queens,8,9\n" +
		"2.5,LGA,Queens,5,6\n" +
		"6,EWR,Newark,12,13\n"
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); got != want {
		t.Fatalf("output:\n%s\nwant:\n%s", got, want)
	}

	// The negative-amount row never left the reader.
	if res.Chunks != 2 || res.RowsIn != 4 || res.RowsOut != 4 {
		t.Fatalf("counters: chunks=%d rowsIn=%d rowsOut=%d, want 2/4/4",
			res.Chunks, res.RowsIn, res.RowsOut)
	}
	if len(res.Summary) != 1 {
		t.Fatalf("summary: %+v", res.Summary)
	}
	sv, ok := res.Summary[0].Value.(aggregate.StatsValue)
	if !ok || sv.Count != 4 || sv.Sum != 46 {
		t.Fatalf("stats over amount_doubled = %+v, want count 4 sum 46", res.Summary[0].Value)
	}
	if sv.Min == nil || *sv.Min != 5 || sv.Max == nil || *sv.Max != 21 {
		t.Fatalf("stats min/max = %v/%v, want 5/21", sv.Min, sv.Max)
	}
}

/*
TestRunFromDocument_CSVToSQLite exercises the registry path to a database
destination: the sink is created by kind, the table is auto-created, and
the published rows are verified through a plain database/sql handle.
*/
func TestRunFromDocument_CSVToSQLite(t *testing.T) {
	dir := t.TempDir()
	in := writeTemp(t, dir, "trips.csv", "amount,zone\n10.5,JFK\n-3,EWR\n2,LGA\n")
	dsn := filepath.Join(dir, "trips.db")

	doc := fmt.Sprintf(`{
  "name": "trips_to_sqlite",
  "source": {"kind": "csv", "location": "%s"},
  "schema": {"columns": [
    {"name": "amount", "kind": "numeric"},
    {"name": "zone", "kind": "text"}
  ]},
  "sink": {"kind": "sqlite", "mode": "overwrite", "dsn": "%s", "table": "trips_out"},
  "runtime": {"chunk_rows": 2, "batch_rows": 2, "progress_every": "1h"}
}`, in, dsn)

	p := parseDocument(t, doc)
	spec, err := buildSpec(context.Background(), p)
	if err != nil {
		t.Fatalf("buildSpec: %v", err)
	}
	res, err := pipeline.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RowsOut != 3 {
		t.Fatalf("rowsOut = %d, want 3", res.RowsOut)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM trips_out`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("table has %d rows, want 3", n)
	}
	var zone string
	if err := db.QueryRow(`SELECT zone FROM trips_out WHERE amount < 0`).Scan(&zone); err != nil {
		t.Fatalf("select: %v", err)
	}
	if zone != "EWR" {
		t.Fatalf("zone = %q, want EWR", zone)
	}
}

/*
TestBuildSpec_BadDocuments walks the assembly failure modes and checks each
error names the component that broke, since that message is what the
operator sees.
*/
func TestBuildSpec_BadDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	base := func() config.Pipeline {
		return config.Pipeline{
			Name:   "bad",
			Source: config.Source{Kind: "csv", Location: "in.csv"},
			Schema: config.Declared{Columns: []config.Column{
				{Name: "amount", Kind: "numeric"},
				{Name: "zone", Kind: "text"},
			}},
			Sink: config.Sink{Kind: "csvfile", Location: "out.csv"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Pipeline)
		wantErr string
	}{
		{
			name:    "unknown transform kind",
			mutate:  func(p *config.Pipeline) { p.Transforms = []config.Step{{Kind: "nope"}} },
			wantErr: "transforms[0]",
		},
		{
			name:    "unknown aggregate kind",
			mutate:  func(p *config.Pipeline) { p.Aggregate = []config.Step{{Kind: "median"}} },
			wantErr: "aggregate[0]",
		},
		{
			name: "selection value kind mismatch",
			mutate: func(p *config.Pipeline) {
				p.Selection = []config.Selection{{Column: "zone", Op: "gt", Value: float64(5)}}
			},
			wantErr: "selection",
		},
		{
			name:    "unknown source kind",
			mutate:  func(p *config.Pipeline) { p.Source.Kind = "xml" },
			wantErr: "unsupported source.kind",
		},
		{
			name: "missing lookup file",
			mutate: func(p *config.Pipeline) {
				p.Lookups = []config.Lookup{{Name: "zones", Path: "/nonexistent/zones.csv", Key: "k", Value: "v"}}
			},
			wantErr: `lookup "zones"`,
		},
		{
			name:    "bad sink mode",
			mutate:  func(p *config.Pipeline) { p.Sink.Mode = "merge" },
			wantErr: "sink",
		},
		{
			name: "unknown model kind",
			mutate: func(p *config.Pipeline) {
				p.Models = []config.Model{{Name: "m", Kind: "forest"}}
			},
			wantErr: `model "m"`,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := base()
			tt.mutate(&p)
			_, err := buildSpec(ctx, p)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
