// Package mysql writes pipeline output to a MySQL table.
//
// MySQL DDL commits implicitly, so the stage is a real table created before
// the session starts and dropped after Commit publishes it. Batches flush
// as multi-row INSERTs, the driver's fast path.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"tabpipe/internal/dataset"
	"tabpipe/internal/sink"
)

func init() {
	sink.Register("mysql", func(cfg sink.Config) (sink.Writer, error) {
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
		return nil, fmt.Errorf("mysql: dsn is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("mysql: table is required")
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
	db, err := sql.Open("mysql", w.dsn)
	if err != nil {
		return nil, wfail("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wfail("ping", err)
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
		db:    db,
		table: w.table,
		stage: stage,
		mode:  mode,
		cols:  schema.Names(),
	}
	s.batch = sink.NewBatcher(len(schema), w.batchRows, s.flush)
	return s, nil
}

type session struct {
	db    *sql.DB
	table string
	stage string
	mode  sink.Mode
	cols  []string
	batch *sink.Batcher
	done  bool
}

func (s *session) flush(ctx context.Context, rows [][]any) error {
	width := len(s.cols)
	one := "(" + placeholders(width) + ")"
	groups := make([]string, len(rows))
	args := make([]any, 0, len(rows)*width)
	for i, row := range rows {
		groups[i] = one
		args = append(args, row...)
	}
	ins := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		myIdent(s.stage), strings.Join(mapIdent(s.cols), ", "), strings.Join(groups, ", "))
	if _, err := s.db.ExecContext(ctx, ins, args...); err != nil {
		return wfail("insert into stage", err)
	}
	return nil
}

func (s *session) Write(ctx context.Context, chunk *dataset.Chunk) error {
	if s.done {
		return fmt.Errorf("mysql: session is closed: %w", dataset.ErrWriteFailure)
	}
	for _, row := range chunk.Rows {
		if len(row.V) != len(s.cols) {
			return fmt.Errorf("mysql: row has %d values, schema has %d columns: %w",
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
		return fmt.Errorf("mysql: session is closed: %w", dataset.ErrWriteFailure)
	}
	defer s.close()
	if err := s.batch.Flush(ctx); err != nil {
		s.dropStage(ctx)
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.dropStage(ctx)
		return wfail("begin transaction", err)
	}
	defer tx.Rollback()
	if s.mode == sink.Overwrite {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+myIdent(s.table)); err != nil {
			s.dropStage(ctx)
			return wfail("clear target table", err)
		}
	}
	colList := strings.Join(mapIdent(s.cols), ", ")
	ins := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		myIdent(s.table), colList, colList, myIdent(s.stage))
	if _, err := tx.ExecContext(ctx, ins); err != nil {
		s.dropStage(ctx)
		return wfail("publish stage", err)
	}
	if err := tx.Commit(); err != nil {
		s.dropStage(ctx)
		return wfail("commit", err)
	}
	s.dropStage(ctx)
	return nil
}

func (s *session) Abort() error {
	if s.done {
		return nil
	}
	s.dropStage(context.Background())
	s.close()
	return nil
}

func (s *session) dropStage(ctx context.Context) {
	s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+myIdent(s.stage))
}

func (s *session) close() {
	s.done = true
	s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func wfail(op string, err error) error {
	return fmt.Errorf("mysql: %s: %v: %w", op, err, dataset.ErrWriteFailure)
}
