// Package sqlite writes pipeline output to a SQLite database file.
//
// The driver is pure Go (modernc.org/sqlite), so this sink also serves as
// the integration-test double for the server-backed sinks. Rows are staged
// in a real table alongside the target and published in one transaction at
// Commit.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tabpipe/internal/dataset"
	"tabpipe/internal/sink"
)

func init() {
	sink.Register("sqlite", func(cfg sink.Config) (sink.Writer, error) {
		return NewWriter(cfg)
	})
}

type Writer struct {
	dsn        string
	table      string
	batchRows  int
	autoCreate bool
}

func NewWriter(cfg sink.Config) (*Writer, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlite: dsn is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("sqlite: table is required")
	}
	return &Writer{
		dsn:        cfg.DSN,
		table:      cfg.Table,
		batchRows:  cfg.BatchRows,
		autoCreate: cfg.Options.Bool("auto_create", true),
	}, nil
}

func (w *Writer) Begin(ctx context.Context, schema dataset.Schema, mode sink.Mode) (sink.Session, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", w.dsn)
	if err != nil {
		return nil, wfail("open", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, wfail("ping", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, wfail("enable foreign keys", err)
	}

	if w.autoCreate {
		if _, err := db.ExecContext(ctx, createTableSQL(w.table, schema, true)); err != nil {
			db.Close()
			return nil, wfail("create table", err)
		}
	}
	stage := sink.StageName(w.table)
	if _, err := db.ExecContext(ctx, createTableSQL(stage, schema, false)); err != nil {
		db.Close()
		return nil, wfail("create stage table", err)
	}

	s := &session{
		db:     db,
		table:  w.table,
		stage:  stage,
		mode:   mode,
		schema: schema.Clone(),
		cols:   schema.Names(),
	}
	s.batch = sink.NewBatcher(len(schema), w.batchRows, s.flush)
	return s, nil
}

type session struct {
	db     *sql.DB
	table  string
	stage  string
	mode   sink.Mode
	schema dataset.Schema
	cols   []string
	batch  *sink.Batcher
	done   bool
}

// flush inserts one prepared row at a time inside a transaction. SQLite has
// no bulk-copy protocol; a wrapped prepared statement is its fast path.
func (s *session) flush(ctx context.Context, rows [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wfail("begin stage transaction", err)
	}
	defer tx.Rollback()
	ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		sqIdent(s.stage), strings.Join(mapIdent(s.cols), ", "), placeholders(len(s.cols)))
	stmt, err := tx.PrepareContext(ctx, ins)
	if err != nil {
		return wfail("prepare insert", err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, bindRow(s.schema, row)...); err != nil {
			return wfail("insert into stage", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wfail("commit stage batch", err)
	}
	return nil
}

func (s *session) Write(ctx context.Context, chunk *dataset.Chunk) error {
	if s.done {
		return fmt.Errorf("sqlite: session is closed: %w", dataset.ErrWriteFailure)
	}
	for _, row := range chunk.Rows {
		if len(row.V) != len(s.cols) {
			return fmt.Errorf("sqlite: row has %d values, schema has %d columns: %w",
				len(row.V), len(s.cols), dataset.ErrWriteFailure)
		}
		if err := s.batch.Add(ctx, row.V); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	if s.done {
		return fmt.Errorf("sqlite: session is closed: %w", dataset.ErrWriteFailure)
	}
	defer s.close()
	if err := s.batch.Flush(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wfail("begin transaction", err)
	}
	defer tx.Rollback()
	if s.mode == sink.Overwrite {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+sqIdent(s.table)); err != nil {
			return wfail("clear target table", err)
		}
	}
	colList := strings.Join(mapIdent(s.cols), ", ")
	ins := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		sqIdent(s.table), colList, colList, sqIdent(s.stage))
	if _, err := tx.ExecContext(ctx, ins); err != nil {
		return wfail("publish stage", err)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE "+sqIdent(s.stage)); err != nil {
		return wfail("drop stage table", err)
	}
	if err := tx.Commit(); err != nil {
		return wfail("commit", err)
	}
	return nil
}

func (s *session) Abort() error {
	if s.done {
		return nil
	}
	s.db.Exec("DROP TABLE IF EXISTS " + sqIdent(s.stage))
	s.close()
	return nil
}

func (s *session) close() {
	s.done = true
	s.db.Close()
}

// bindRow converts cells to driver values. Timestamps become layout strings
// so the stored TEXT is byte-stable regardless of driver defaults.
func bindRow(schema dataset.Schema, row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		if schema[i].Kind == dataset.KindTimestamp {
			if t, ok := v.(time.Time); ok {
				out[i] = t.UTC().Format(schema[i].TimeLayout())
				continue
			}
		}
		out[i] = v
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func wfail(op string, err error) error {
	return fmt.Errorf("sqlite: %s: %v: %w", op, err, dataset.ErrWriteFailure)
}
