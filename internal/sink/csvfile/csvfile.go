// Package csvfile writes datasets back out as delimited text. Output is
// staged to a temp file and published at Commit, so a half-written export
// never replaces a good one and a run may re-export over its own input.
//
// CSV cannot distinguish an empty text cell from a null; both sides of
// that round trip use the null_marker option (empty string by default).
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"reflect"

	"tabpipe/internal/dataset"
	"tabpipe/internal/sink"
)

func init() {
	sink.Register("csvfile", func(cfg sink.Config) (sink.Writer, error) {
		return NewWriter(cfg)
	})
}

// Writer writes one CSV destination.
type Writer struct {
	location string
	delim    rune
	nullMark string
	header   bool
}

func NewWriter(cfg sink.Config) (*Writer, error) {
	if cfg.Location == "" {
		return nil, fmt.Errorf("csvfile: sink requires a location")
	}
	return &Writer{
		location: cfg.Location,
		delim:    cfg.Options.Rune("delimiter", ','),
		nullMark: cfg.Options.String("null_marker", ""),
		header:   cfg.Options.Bool("header", true),
	}, nil
}

func wfail(format string, args ...any) error {
	return fmt.Errorf("%w: csvfile: %s", dataset.ErrWriteFailure, fmt.Sprintf(format, args...))
}

func (w *Writer) Begin(ctx context.Context, schema dataset.Schema, mode sink.Mode) (sink.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		return nil, wfail("%v", err)
	}

	fresh := true
	if mode == sink.Append {
		var err error
		if fresh, err = w.checkAppendTarget(schema); err != nil {
			return nil, err
		}
	}

	stage, err := sink.NewFileStage(w.location, mode == sink.Overwrite || fresh)
	if err != nil {
		return nil, err
	}
	cw := csv.NewWriter(stage.File())
	cw.Comma = w.delim
	s := &session{
		stage:    stage,
		cw:       cw,
		schema:   schema.Clone(),
		nullMark: w.nullMark,
		record:   make([]string, len(schema)),
	}
	if w.header && (mode == sink.Overwrite || fresh) {
		if err := cw.Write(schema.Names()); err != nil {
			stage.Abort()
			return nil, wfail("write header: %v", err)
		}
	}
	return s, nil
}

// checkAppendTarget reports whether the destination is missing or empty
// and, when it already has a header, that the header matches the schema.
func (w *Writer) checkAppendTarget(schema dataset.Schema) (fresh bool, err error) {
	f, err := os.Open(w.location)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, wfail("open %s: %v", w.location, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return true, nil
	}
	if !w.header {
		return false, nil
	}
	r := csv.NewReader(f)
	r.Comma = w.delim
	head, err := r.Read()
	if err != nil {
		return false, wfail("read %s header: %v", w.location, err)
	}
	if !reflect.DeepEqual(head, schema.Names()) {
		return false, fmt.Errorf("%w: csvfile: append header does not match the existing file", dataset.ErrSchemaMismatch)
	}
	return false, nil
}

type session struct {
	stage    *sink.FileStage
	cw       *csv.Writer
	schema   dataset.Schema
	nullMark string
	record   []string
}

func (s *session) Write(ctx context.Context, chunk *dataset.Chunk) error {
	if s.stage.Done() {
		return wfail("write after commit or abort")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, row := range chunk.Rows {
		if len(row.V) != len(s.schema) {
			return wfail("row has %d cells, schema has %d columns", len(row.V), len(s.schema))
		}
		for i, col := range s.schema {
			if row.V[i] == nil {
				s.record[i] = s.nullMark
				continue
			}
			cell, err := dataset.FormatValue(col, row.V[i])
			if err != nil {
				return wfail("%v", err)
			}
			s.record[i] = cell
		}
		if err := s.cw.Write(s.record); err != nil {
			return wfail("write row: %v", err)
		}
	}
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	if s.stage.Done() {
		return wfail("commit after commit or abort")
	}
	if err := ctx.Err(); err != nil {
		s.stage.Abort()
		return err
	}
	s.cw.Flush()
	if err := s.cw.Error(); err != nil {
		s.stage.Abort()
		return wfail("flush: %v", err)
	}
	return s.stage.Commit()
}

func (s *session) Abort() error {
	return s.stage.Abort()
}
