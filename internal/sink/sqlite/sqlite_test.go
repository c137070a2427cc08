package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"tabpipe/internal/dataset"
	"tabpipe/internal/sink"
)

/*
Test helpers
*/

func tripSchema() dataset.Schema {
	return dataset.Schema{
		{Name: "amount", Kind: dataset.KindNumeric},
		{Name: "day", Kind: dataset.KindCategorical, Levels: []string{"mon", "tue", "wed"}},
		{Name: "zone", Kind: dataset.KindText},
		{Name: "at", Kind: dataset.KindTimestamp},
	}
}

func makeChunk(vals ...[]any) *dataset.Chunk {
	rows := make([]*dataset.Row, len(vals))
	for i, vs := range vals {
		r := dataset.GetRow(len(vs))
		copy(r.V, vs)
		rows[i] = r
	}
	return &dataset.Chunk{Rows: rows}
}

func runSession(t *testing.T, dsn, table string, mode sink.Mode, chunks ...*dataset.Chunk) {
	t.Helper()
	w, err := NewWriter(sink.Config{DSN: dsn, Table: table, BatchRows: 2})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	s, err := w.Begin(context.Background(), tripSchema(), mode)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, c := range chunks {
		if err := s.Write(context.Background(), c); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := s.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func openDB(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open %s: %v", dsn, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + sqIdent(table)).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

/*
Unit tests
*/

// TestRoundTrip writes two chunks through a session and reads the rows back
// with a separate connection, checking value conversion per column kind.
func TestRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "out.db")
	at := time.Date(2015, 1, 15, 13, 40, 2, 0, time.UTC)

	runSession(t, dsn, "trips", sink.Overwrite,
		makeChunk(
			[]any{10.5, "mon", "JFK", at},
			[]any{nil, nil, nil, nil},
		),
		makeChunk(
			[]any{-3.0, "wed", "EWR", at.Add(time.Hour)},
		),
	)

	db := openDB(t, dsn)
	if n := countRows(t, db, "trips"); n != 3 {
		t.Fatalf("row count: got %d want 3", n)
	}

	rows, err := db.Query(`SELECT amount, day, zone, at FROM "trips" WHERE amount IS NOT NULL ORDER BY amount`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()
	type rec struct {
		amount float64
		day    string
		zone   string
		at     string
	}
	var got []rec
	for rows.Next() {
		var r rec
		if err := rows.Scan(&r.amount, &r.day, &r.zone, &r.at); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows err: %v", err)
	}
	want := []rec{
		{-3.0, "wed", "EWR", "2015-01-15T14:40:02Z"},
		{10.5, "mon", "JFK", "2015-01-15T13:40:02Z"},
	}
	if len(got) != len(want) {
		t.Fatalf("non-null rows: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("row %d: got %+v want %+v", i, got[i], want[i])
		}
	}

	// The all-null row keeps every cell NULL.
	var nulls int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "trips" WHERE amount IS NULL AND day IS NULL AND zone IS NULL AND at IS NULL`).Scan(&nulls); err != nil {
		t.Fatalf("null count: %v", err)
	}
	if nulls != 1 {
		t.Fatalf("all-null rows: got %d want 1", nulls)
	}
}

// TestOverwriteReplaces checks that a second overwrite session replaces the
// previous contents instead of adding to them.
func TestOverwriteReplaces(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "out.db")
	at := time.Date(2015, 1, 15, 0, 0, 0, 0, time.UTC)

	runSession(t, dsn, "trips", sink.Overwrite,
		makeChunk([]any{1.0, "mon", "a", at}, []any{2.0, "tue", "b", at}))
	runSession(t, dsn, "trips", sink.Overwrite,
		makeChunk([]any{9.0, "wed", "c", at}))

	db := openDB(t, dsn)
	if n := countRows(t, db, "trips"); n != 1 {
		t.Fatalf("row count after overwrite: got %d want 1", n)
	}
	var amount float64
	if err := db.QueryRow(`SELECT amount FROM "trips"`).Scan(&amount); err != nil {
		t.Fatalf("query: %v", err)
	}
	if amount != 9.0 {
		t.Fatalf("amount: got %v want 9", amount)
	}
}

// TestAppend checks that an append session extends the table.
func TestAppend(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "out.db")
	at := time.Date(2015, 1, 15, 0, 0, 0, 0, time.UTC)

	runSession(t, dsn, "trips", sink.Overwrite,
		makeChunk([]any{1.0, "mon", "a", at}, []any{2.0, "tue", "b", at}))
	runSession(t, dsn, "trips", sink.Append,
		makeChunk([]any{3.0, "wed", "c", at}))

	db := openDB(t, dsn)
	if n := countRows(t, db, "trips"); n != 3 {
		t.Fatalf("row count after append: got %d want 3", n)
	}
}

// TestAbort checks that aborting leaves the target untouched and drops the
// stage table.
func TestAbort(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "out.db")
	at := time.Date(2015, 1, 15, 0, 0, 0, 0, time.UTC)

	runSession(t, dsn, "trips", sink.Overwrite,
		makeChunk([]any{1.0, "mon", "a", at}))

	w, err := NewWriter(sink.Config{DSN: dsn, Table: "trips", BatchRows: 1})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	s, err := w.Begin(context.Background(), tripSchema(), sink.Overwrite)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.Write(context.Background(), makeChunk([]any{5.0, "tue", "x", at})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := s.Abort(); err != nil {
		t.Fatalf("second Abort: %v", err)
	}

	db := openDB(t, dsn)
	if n := countRows(t, db, "trips"); n != 1 {
		t.Fatalf("row count after abort: got %d want 1", n)
	}
	var stages int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE '%_stage_%'`).Scan(&stages); err != nil {
		t.Fatalf("stage scan: %v", err)
	}
	if stages != 0 {
		t.Fatalf("leftover stage tables: got %d want 0", stages)
	}
}

// TestWriteAfterCommit rejects writes on a finished session.
func TestWriteAfterCommit(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "out.db")
	w, err := NewWriter(sink.Config{DSN: dsn, Table: "trips"})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	s, err := w.Begin(context.Background(), tripSchema(), sink.Overwrite)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := s.Write(context.Background(), makeChunk()); err == nil {
		t.Fatalf("expected write on closed session to fail")
	}
}

// TestNewWriter_Validation rejects incomplete configuration.
func TestNewWriter_Validation(t *testing.T) {
	if _, err := NewWriter(sink.Config{Table: "t"}); err == nil {
		t.Fatalf("expected missing dsn to fail")
	}
	if _, err := NewWriter(sink.Config{DSN: "x.db"}); err == nil {
		t.Fatalf("expected missing table to fail")
	}
}
