package chunkfile

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
	"tabpipe/internal/source"
)

// Reader reads a chunkfile as a chunk source. The schema embedded in the
// file must equal the declared one exactly; a chunkfile is produced by an
// earlier run, so any drift means the caller is pointing at the wrong
// file, not that coercion should be attempted.
type Reader struct {
	location string
	schema   dataset.Schema
	pred     dataset.RowPredicate
}

// New builds a Reader for location against the declared schema.
func New(location string, declared dataset.Schema, _ config.Options, pred dataset.RowPredicate) (*Reader, error) {
	if err := declared.Validate(); err != nil {
		return nil, fmt.Errorf("chunkfile: %w", err)
	}
	return &Reader{location: location, schema: declared.Clone(), pred: pred}, nil
}

// Schema returns the declared schema.
func (r *Reader) Schema() dataset.Schema { return r.schema }

// Open opens the file, checks the magic and the embedded schema, and
// returns a cursor positioned at the first frame. Each Open starts an
// independent pass.
func (r *Reader) Open(ctx context.Context) (source.Cursor, error) {
	rc, err := source.OpenLocation(ctx, r.location)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(rc, 256<<10)
	embedded, err := DecodeHeader(br)
	if err != nil {
		rc.Close()
		return nil, err
	}
	if !embedded.Equal(r.schema) {
		rc.Close()
		return nil, fmt.Errorf("%w: chunkfile schema does not match the declared schema", dataset.ErrSchemaMismatch)
	}
	return &cursor{rc: rc, br: br, schema: r.schema, pred: r.pred}, nil
}

type cursor struct {
	rc     io.ReadCloser
	br     *bufio.Reader
	schema dataset.Schema
	pred   dataset.RowPredicate
	chunks int
}

// Next returns the next non-empty chunk. Stored frame indexes are
// ignored; the cursor assigns its own dense sequence so downstream
// ordering logic never sees gaps, even when the predicate empties frames.
func (c *cursor) Next(ctx context.Context) (*dataset.Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, chunk, err := DecodeFrame(c.br, c.schema)
		if err != nil {
			return nil, err
		}
		if c.pred != nil {
			kept := chunk.Rows[:0]
			for _, row := range chunk.Rows {
				if c.pred(row) {
					kept = append(kept, row)
				} else {
					row.Free()
				}
			}
			chunk.Rows = kept
		}
		if chunk.Len() == 0 {
			continue
		}
		chunk.Index = c.chunks
		c.chunks++
		return chunk, nil
	}
}

func (c *cursor) Close() error {
	if c.rc == nil {
		return nil
	}
	err := c.rc.Close()
	c.rc = nil
	return err
}
