// Package mssql writes pipeline output to a SQL Server table.
//
// The whole session runs inside one transaction on one connection: rows
// bulk-copy into a connection-scoped #temp table and reach the target only
// when Commit publishes them. Rolling back the transaction discards the
// stage for free.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"tabpipe/internal/dataset"
	"tabpipe/internal/sink"
)

func init() {
	sink.Register("mssql", func(cfg sink.Config) (sink.Writer, error) {
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
		return nil, fmt.Errorf("mssql: dsn is required")
	}
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql: invalid dsn: %w", err)
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("mssql: table is required")
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
	db, err := sql.Open("sqlserver", w.dsn)
	if err != nil {
		return nil, wfail("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wfail("ping", err)
	}
	if w.autoCreate {
		if _, err := db.ExecContext(ctx, createTableSQL(w.table, schema)); err != nil {
			db.Close()
			return nil, wfail("create table", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.Close()
		return nil, wfail("begin transaction", err)
	}
	// #-prefixed tables are connection-scoped; the transaction pins the
	// connection, so the stage stays visible to every statement below.
	stage := "#" + lastSegment(sink.StageName(w.table))
	sel := fmt.Sprintf("SELECT TOP 0 %s INTO %s FROM %s",
		strings.Join(mapIdent(schema.Names()), ", "), msIdent(stage), msFQN(w.table))
	if _, err := tx.ExecContext(ctx, sel); err != nil {
		tx.Rollback()
		db.Close()
		return nil, wfail("create stage table", err)
	}

	s := &session{
		db:     db,
		tx:     tx,
		table:  w.table,
		stage:  stage,
		mode:   mode,
		cols:   schema.Names(),
		schema: schema.Clone(),
	}
	s.batch = sink.NewBatcher(len(schema), w.batchRows, s.flush)
	return s, nil
}

type session struct {
	db     *sql.DB
	tx     *sql.Tx
	table  string
	stage  string
	mode   sink.Mode
	cols   []string
	schema dataset.Schema
	batch  *sink.Batcher
	done   bool
}

// flush streams one batch through the driver's bulk-copy statement. The
// final parameterless Exec tells the driver to send the accumulated rows.
func (s *session) flush(ctx context.Context, rows [][]any) error {
	stmt, err := s.tx.PrepareContext(ctx, mssql.CopyIn(s.stage, mssql.BulkOptions{}, s.cols...))
	if err != nil {
		return wfail("prepare bulk copy", err)
	}
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			return wfail("bulk copy row", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return wfail("flush bulk copy", err)
	}
	if err := stmt.Close(); err != nil {
		return wfail("close bulk copy", err)
	}
	return nil
}

func (s *session) Write(ctx context.Context, chunk *dataset.Chunk) error {
	if s.done {
		return fmt.Errorf("mssql: session is closed: %w", dataset.ErrWriteFailure)
	}
	for _, row := range chunk.Rows {
		if len(row.V) != len(s.cols) {
			return fmt.Errorf("mssql: row has %d values, schema has %d columns: %w",
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
		return fmt.Errorf("mssql: session is closed: %w", dataset.ErrWriteFailure)
	}
	defer s.close()
	if err := s.batch.Flush(ctx); err != nil {
		s.tx.Rollback()
		return err
	}

	if s.mode == sink.Overwrite {
		if _, err := s.tx.ExecContext(ctx, "DELETE FROM "+msFQN(s.table)); err != nil {
			s.tx.Rollback()
			return wfail("clear target table", err)
		}
	}
	colList := strings.Join(mapIdent(s.cols), ", ")
	ins := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		msFQN(s.table), colList, colList, msIdent(s.stage))
	if _, err := s.tx.ExecContext(ctx, ins); err != nil {
		s.tx.Rollback()
		return wfail("publish stage", err)
	}
	if err := s.tx.Commit(); err != nil {
		return wfail("commit", err)
	}
	return nil
}

func (s *session) Abort() error {
	if s.done {
		return nil
	}
	s.tx.Rollback()
	s.close()
	return nil
}

func (s *session) close() {
	s.done = true
	s.db.Close()
}

func wfail(op string, err error) error {
	return fmt.Errorf("mssql: %s: %v: %w", op, err, dataset.ErrWriteFailure)
}

func lastSegment(fqn string) string {
	parts := strings.Split(fqn, ".")
	return parts[len(parts)-1]
}
