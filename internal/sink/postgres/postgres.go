// Package postgres writes pipeline output to a PostgreSQL table.
//
// Rows are staged through a session-scoped temporary table and copied in
// with the binary COPY protocol. The target table is only touched inside
// the Commit transaction, so a failed or aborted run leaves it untouched.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabpipe/internal/dataset"
	"tabpipe/internal/sink"
)

func init() {
	sink.Register("postgres", func(cfg sink.Config) (sink.Writer, error) {
		return NewWriter(cfg)
	})
}

// Writer connects lazily: the pool is created per session in Begin so a
// misconfigured DSN surfaces when the pipeline starts, not at wiring time.
type Writer struct {
	dsn        string
	table      string
	batchRows  int
	autoCreate bool
}

func NewWriter(cfg sink.Config) (*Writer, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	if cfg.Table == "" {
		return nil, fmt.Errorf("postgres: table is required")
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
	pool, err := pgxpool.New(ctx, w.dsn)
	if err != nil {
		return nil, wfail("connect", err)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, wfail("acquire connection", err)
	}
	if w.autoCreate {
		if _, err := conn.Exec(ctx, createTableSQL(w.table, schema)); err != nil {
			conn.Release()
			pool.Close()
			return nil, wfail("create table", err)
		}
	}

	// Temp tables are connection-local, so the stage name only needs to be
	// unique within this session; the unqualified last segment keeps it in
	// pg_temp rather than the target's schema.
	stage := lastSegment(sink.StageName(w.table))
	ddl := fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s FROM %s WHERE false",
		pgIdent(stage), strings.Join(mapIdent(schema.Names()), ", "), pgFQN(w.table))
	if _, err := conn.Exec(ctx, ddl); err != nil {
		conn.Release()
		pool.Close()
		return nil, wfail("create stage table", err)
	}

	s := &session{
		pool:   pool,
		conn:   conn,
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
	pool   *pgxpool.Pool
	conn   *pgxpool.Conn
	table  string
	stage  string
	mode   sink.Mode
	cols   []string
	schema dataset.Schema
	batch  *sink.Batcher
	done   bool
}

func (s *session) flush(ctx context.Context, rows [][]any) error {
	_, err := s.conn.CopyFrom(ctx, pgx.Identifier{s.stage}, s.cols, pgx.CopyFromRows(rows))
	if err != nil {
		return wfail("copy to stage", err)
	}
	return nil
}

func (s *session) Write(ctx context.Context, chunk *dataset.Chunk) error {
	if s.done {
		return fmt.Errorf("postgres: session is closed: %w", dataset.ErrWriteFailure)
	}
	for _, row := range chunk.Rows {
		if len(row.V) != len(s.cols) {
			return fmt.Errorf("postgres: row has %d values, schema has %d columns: %w",
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
		return fmt.Errorf("postgres: session is closed: %w", dataset.ErrWriteFailure)
	}
	defer s.close()
	if err := s.batch.Flush(ctx); err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return wfail("begin transaction", err)
	}
	defer tx.Rollback(ctx)
	if s.mode == sink.Overwrite {
		if _, err := tx.Exec(ctx, "DELETE FROM "+pgFQN(s.table)); err != nil {
			return wfail("clear target table", err)
		}
	}
	colList := strings.Join(mapIdent(s.cols), ", ")
	ins := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		pgFQN(s.table), colList, colList, pgIdent(s.stage))
	if _, err := tx.Exec(ctx, ins); err != nil {
		return wfail("publish stage", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return wfail("commit", err)
	}
	s.conn.Exec(ctx, "DROP TABLE IF EXISTS "+pgIdent(s.stage))
	return nil
}

func (s *session) Abort() error {
	if s.done {
		return nil
	}
	// The temp table dies with the connection; dropping it here just frees
	// space a little sooner.
	s.conn.Exec(context.Background(), "DROP TABLE IF EXISTS "+pgIdent(s.stage))
	s.close()
	return nil
}

func (s *session) close() {
	s.done = true
	s.conn.Release()
	s.pool.Close()
}

func wfail(op string, err error) error {
	return fmt.Errorf("postgres: %s: %v: %w", op, err, dataset.ErrWriteFailure)
}

func lastSegment(fqn string) string {
	parts := strings.Split(fqn, ".")
	return parts[len(parts)-1]
}
