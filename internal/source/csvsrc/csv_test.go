package csvsrc

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

/*
makeCSV builds a CSV document in memory with the given header and rows, using
encoding/csv for proper quoting, and writes it into dir. It returns the path.
*/
func makeCSV(t *testing.T, dir string, delim rune, header []string, rows [][]string) string {
	t.Helper()
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	w.Comma = delim
	if header != nil {
		_ = w.Write(header)
	}
	for _, r := range rows {
		_ = w.Write(r)
	}
	w.Flush()
	path := filepath.Join(dir, "in.csv")
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func ordersSchema() dataset.Schema {
	return dataset.Schema{
		{Name: "amount", Kind: dataset.KindNumeric},
		{Name: "day", Kind: dataset.KindCategorical, Levels: []string{"mon", "tue", "wed", "thu", "fri"}},
	}
}

// collect drains a cursor into a flat row snapshot ([cell values per row])
// and frees every chunk.
func collect(t *testing.T, ctx context.Context, cur interface {
	Next(context.Context) (*dataset.Chunk, error)
	Close() error
}) [][]any {
	t.Helper()
	var out [][]any
	for {
		ch, err := cur.Next(ctx)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		for _, row := range ch.Rows {
			vals := make([]any, len(row.V))
			copy(vals, row.V)
			out = append(out, vals)
		}
		ch.Free()
	}
}

/*
TestReader_TypedDecode verifies header binding and the per-column decode
plan: numeric cells become float64, categorical cells stay strings checked
against the level set, and empty cells become null.
*/
func TestReader_TypedDecode(t *testing.T) {
	path := makeCSV(t, t.TempDir(), ',',
		[]string{"amount", "day"},
		[][]string{{"10", "mon"}, {"", "tue"}, {"3.5", "fri"}},
	)
	r, err := New(path, ordersSchema(), config.Options{"chunk_rows": float64(2)}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cur, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur.Close()

	rows := collect(t, context.Background(), cur)
	if len(rows) != 3 {
		t.Fatalf("rows=%d; want 3", len(rows))
	}
	if rows[0][0] != float64(10) || rows[0][1] != "mon" {
		t.Fatalf("row 0 = %v", rows[0])
	}
	if rows[1][0] != nil {
		t.Fatalf("empty cell decoded to %v; want nil", rows[1][0])
	}
	if rows[2][0] != float64(3.5) {
		t.Fatalf("row 2 amount = %v", rows[2][0])
	}
}

/*
TestReader_PredicatePushdown runs the canonical selection scenario: rows
with amounts 10, -5, 0 and the clause amount > 0 yield exactly one row, and
chunk indexes stay dense after filtering.
*/
func TestReader_PredicatePushdown(t *testing.T) {
	path := makeCSV(t, t.TempDir(), ',',
		[]string{"amount", "day"},
		[][]string{{"10", "mon"}, {"-5", "tue"}, {"0", "wed"}},
	)
	schema := ordersSchema()
	pred, err := dataset.CompileSelection(schema, []dataset.Selection{{Column: "amount", Op: "gt", Value: 0}})
	if err != nil {
		t.Fatalf("CompileSelection: %v", err)
	}
	r, err := New(path, schema, nil, pred)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cur, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur.Close()

	ch, err := cur.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ch.Index != 0 || ch.Len() != 1 {
		t.Fatalf("chunk index=%d len=%d; want 0, 1", ch.Index, ch.Len())
	}
	if ch.Rows[0].V[0] != float64(10) {
		t.Fatalf("kept row = %v; want amount 10", ch.Rows[0].V)
	}
	ch.Free()
	if _, err := cur.Next(context.Background()); err != io.EOF {
		t.Fatalf("after last chunk err=%v; want io.EOF", err)
	}
}

/*
TestReader_SchemaMismatch verifies a bad cell aborts the pass with a
SchemaError naming the 1-based input row (header included) and the column.
*/
func TestReader_SchemaMismatch(t *testing.T) {
	path := makeCSV(t, t.TempDir(), ',',
		[]string{"amount", "day"},
		[][]string{{"10", "mon"}, {"abc", "tue"}},
	)
	r, err := New(path, ordersSchema(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cur, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur.Close()

	_, err = cur.Next(context.Background())
	var se *dataset.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("err=%v; want SchemaError", err)
	}
	if se.Row != 3 || se.Column != "amount" || se.Value != "abc" {
		t.Fatalf("SchemaError=%+v; want row 3, column amount, value abc", se)
	}
	if !errors.Is(err, dataset.ErrSchemaMismatch) {
		t.Fatal("error does not match ErrSchemaMismatch")
	}
}

/*
TestReader_UndeclaredLevel verifies categorical enforcement: a value outside
the declared level set is a schema mismatch, not a new level.
*/
func TestReader_UndeclaredLevel(t *testing.T) {
	path := makeCSV(t, t.TempDir(), ',',
		[]string{"amount", "day"},
		[][]string{{"1", "sun"}},
	)
	r, _ := New(path, ordersSchema(), nil, nil)
	cur, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur.Close()

	_, err = cur.Next(context.Background())
	var se *dataset.SchemaError
	if !errors.As(err, &se) || se.Column != "day" {
		t.Fatalf("err=%v; want SchemaError on column day", err)
	}
}

/*
TestReader_EagerHeaderCheck verifies a declared column missing from the
header fails at Open, before any chunk is produced, and that header_map
renames can satisfy the declaration.
*/
func TestReader_EagerHeaderCheck(t *testing.T) {
	dir := t.TempDir()
	path := makeCSV(t, dir, ',',
		[]string{"Amount (CZK)", "day"},
		[][]string{{"10", "mon"}},
	)

	r, _ := New(path, ordersSchema(), nil, nil)
	if _, err := r.Open(context.Background()); !errors.Is(err, dataset.ErrSchemaMismatch) {
		t.Fatalf("Open err=%v; want schema mismatch for missing column", err)
	}

	r2, _ := New(path, ordersSchema(), config.Options{
		"header_map": map[string]any{"Amount (CZK)": "amount"},
	}, nil)
	cur, err := r2.Open(context.Background())
	if err != nil {
		t.Fatalf("Open with header_map: %v", err)
	}
	cur.Close()
}

/*
TestReader_Restartable verifies a second Open yields the same pass again
from the beginning; re-reads must not depend on cursor state.
*/
func TestReader_Restartable(t *testing.T) {
	path := makeCSV(t, t.TempDir(), ',',
		[]string{"amount", "day"},
		[][]string{{"1", "mon"}, {"2", "tue"}},
	)
	r, _ := New(path, ordersSchema(), nil, nil)

	for pass := range 2 {
		cur, err := r.Open(context.Background())
		if err != nil {
			t.Fatalf("pass %d: Open: %v", pass, err)
		}
		rows := collect(t, context.Background(), cur)
		if len(rows) != 2 || rows[0][0] != float64(1) {
			t.Fatalf("pass %d: rows=%v", pass, rows)
		}
		cur.Close()
	}
}

/*
TestReader_ChunkBoundaries verifies chunk_rows bounds every chunk and the
last partial chunk is emitted, with dense indexes.
*/
func TestReader_ChunkBoundaries(t *testing.T) {
	rows := make([][]string, 5)
	for i := range rows {
		rows[i] = []string{"1", "mon"}
	}
	path := makeCSV(t, t.TempDir(), ',', []string{"amount", "day"}, rows)
	r, _ := New(path, ordersSchema(), config.Options{"chunk_rows": float64(2)}, nil)
	cur, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur.Close()

	var sizes []int
	for i := 0; ; i++ {
		ch, err := cur.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ch.Index != i {
			t.Fatalf("chunk index=%d; want %d", ch.Index, i)
		}
		sizes = append(sizes, ch.Len())
		ch.Free()
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("chunk sizes=%v; want [2 2 1]", sizes)
	}
}

/*
TestReader_NoHeaderPositional verifies positional binding without a header,
including the short-record check.
*/
func TestReader_NoHeaderPositional(t *testing.T) {
	dir := t.TempDir()
	path := makeCSV(t, dir, ';', nil, [][]string{{"4", "thu"}})

	r, _ := New(path, ordersSchema(), config.Options{"header": false, "delimiter": ";"}, nil)
	cur, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rows := collect(t, context.Background(), cur)
	cur.Close()
	if len(rows) != 1 || rows[0][0] != float64(4) {
		t.Fatalf("rows=%v", rows)
	}

	short := makeCSV(t, t.TempDir(), ';', nil, [][]string{{"4"}})
	r2, _ := New(short, ordersSchema(), config.Options{"header": false, "delimiter": ";"}, nil)
	cur2, err := r2.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur2.Close()
	if _, err := cur2.Next(context.Background()); !errors.Is(err, dataset.ErrSchemaMismatch) {
		t.Fatalf("short record err=%v; want schema mismatch", err)
	}
}

/*
TestReader_MissingFile verifies an unreachable location surfaces as
ErrSourceUnavailable while preserving os.ErrNotExist underneath.
*/
func TestReader_MissingFile(t *testing.T) {
	r, _ := New(filepath.Join(t.TempDir(), "absent.csv"), ordersSchema(), nil, nil)
	_, err := r.Open(context.Background())
	if !errors.Is(err, dataset.ErrSourceUnavailable) {
		t.Fatalf("err=%v; want ErrSourceUnavailable", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v; lost os.ErrNotExist", err)
	}
}

/*
TestReader_HTTP verifies an http(s) location streams through the same decode
path as a local file, and that a non-200 response fails Open with
ErrSourceUnavailable naming the status.
*/
func TestReader_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone.csv" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "amount,day\n10,mon\n3.5,fri\n")
	}))
	defer srv.Close()

	r, err := New(srv.URL+"/orders.csv", ordersSchema(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cur, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur.Close()

	rows := collect(t, context.Background(), cur)
	if len(rows) != 2 || rows[0][0] != float64(10) || rows[1][1] != "fri" {
		t.Fatalf("rows = %v", rows)
	}

	r, _ = New(srv.URL+"/gone.csv", ordersSchema(), nil, nil)
	if _, err := r.Open(context.Background()); !errors.Is(err, dataset.ErrSourceUnavailable) {
		t.Fatalf("404 Open err=%v; want ErrSourceUnavailable", err)
	}
}

/*
TestReader_Cancellation verifies Next honors context cancellation between
records instead of finishing the pass.
*/
func TestReader_Cancellation(t *testing.T) {
	rows := make([][]string, 100)
	for i := range rows {
		rows[i] = []string{"1", "mon"}
	}
	path := makeCSV(t, t.TempDir(), ',', []string{"amount", "day"}, rows)
	r, _ := New(path, ordersSchema(), nil, nil)
	cur, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cur.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next err=%v; want context.Canceled", err)
	}
}

/*
TestReader_Timestamps verifies timestamp cells parse with the declared
layout and normalize to UTC.
*/
func TestReader_Timestamps(t *testing.T) {
	schema := dataset.Schema{{Name: "at", Kind: dataset.KindTimestamp, Layout: "2006-01-02"}}
	path := makeCSV(t, t.TempDir(), ',', []string{"at"}, [][]string{{"2026-08-25"}})
	r, _ := New(path, schema, nil, nil)
	cur, err := r.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer cur.Close()

	rows := collect(t, context.Background(), cur)
	got, ok := rows[0][0].(time.Time)
	if !ok {
		t.Fatalf("cell=%T; want time.Time", rows[0][0])
	}
	want := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("parsed %v; want %v", got, want)
	}
}
