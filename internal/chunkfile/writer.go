package chunkfile

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"tabpipe/internal/dataset"
	"tabpipe/internal/sink"
)

func init() {
	sink.Register("chunkfile", func(cfg sink.Config) (sink.Writer, error) {
		return NewWriter(cfg)
	})
}

// Writer writes chunkfiles as a sink. Frames are staged through a
// sink.FileStage, so nothing is visible at the destination until Commit
// and overwriting a file while reading it as the same run's source is
// safe.
type Writer struct {
	location string
}

func NewWriter(cfg sink.Config) (*Writer, error) {
	if cfg.Location == "" {
		return nil, fmt.Errorf("chunkfile: sink requires a location")
	}
	return &Writer{location: cfg.Location}, nil
}

func wfail(format string, args ...any) error {
	return fmt.Errorf("%w: chunkfile: %s", dataset.ErrWriteFailure, fmt.Sprintf(format, args...))
}

func (w *Writer) Begin(ctx context.Context, schema dataset.Schema, mode sink.Mode) (sink.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		return nil, wfail("%v", err)
	}

	// Appending to an existing file only makes sense when the schemas
	// agree exactly; check before staging anything.
	fresh := true
	if mode == sink.Append {
		existing, err := os.Open(w.location)
		switch {
		case err == nil:
			st, serr := existing.Stat()
			if serr == nil && st.Size() > 0 {
				fresh = false
				embedded, herr := DecodeHeader(bufio.NewReader(existing))
				if herr != nil {
					existing.Close()
					return nil, herr
				}
				if !embedded.Equal(schema) {
					existing.Close()
					return nil, fmt.Errorf("%w: chunkfile: append schema does not match the existing file", dataset.ErrSchemaMismatch)
				}
			}
			existing.Close()
		case os.IsNotExist(err):
		default:
			return nil, wfail("open %s: %v", w.location, err)
		}
	}

	stage, err := sink.NewFileStage(w.location, mode == sink.Overwrite || fresh)
	if err != nil {
		return nil, err
	}
	s := &session{
		stage:  stage,
		bw:     bufio.NewWriterSize(stage.File(), 256<<10),
		schema: schema.Clone(),
	}
	// A complete stage starts with the header; an append stage holds
	// frames only.
	if mode == sink.Overwrite || fresh {
		if err := EncodeHeader(s.bw, s.schema); err != nil {
			stage.Abort()
			return nil, wfail("write header: %v", err)
		}
	}
	return s, nil
}

type session struct {
	stage  *sink.FileStage
	bw     *bufio.Writer
	schema dataset.Schema
	seq    int
}

func (s *session) Write(ctx context.Context, chunk *dataset.Chunk) error {
	if s.stage.Done() {
		return wfail("write after commit or abort")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if chunk.Len() == 0 {
		return nil
	}
	if err := EncodeFrame(s.bw, s.seq, chunk, s.schema); err != nil {
		return wfail("frame %d: %v", s.seq, err)
	}
	s.seq++
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
	if err := s.bw.Flush(); err != nil {
		s.stage.Abort()
		return wfail("flush: %v", err)
	}
	return s.stage.Commit()
}

func (s *session) Abort() error {
	return s.stage.Abort()
}
