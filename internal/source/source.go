// Package source defines how datasets enter a run: the Reader/Cursor
// contract every input format implements, byte-level openers for local files
// and HTTP locations, and the compiled per-column cell decoders that enforce
// the declared schema while streaming.
//
// Readers are lazy (at most one chunk is materialized per cursor), finite
// (Next returns io.EOF after the last chunk), and restartable (every Open
// starts a fresh pass). A reader optionally carries the run's row-selection
// predicate so non-matching rows are dropped before chunk assembly; chunk
// indexes stay dense either way.
package source

import (
	"context"

	"tabpipe/internal/dataset"
)

// Reader is a restartable chunk source bound to one dataset location and one
// declared schema.
type Reader interface {
	// Schema returns the declared input schema. Fixed for the run.
	Schema() dataset.Schema

	// Open starts a fresh pass over the dataset. Failures to reach the
	// bytes wrap dataset.ErrSourceUnavailable; declared-schema violations
	// detectable up front (a missing header column, a foreign embedded
	// schema) wrap dataset.ErrSchemaMismatch.
	Open(ctx context.Context) (Cursor, error)
}

// Cursor is one pass over a dataset. Cursors are not safe for concurrent
// use; the pipeline reads from exactly one goroutine.
type Cursor interface {
	// Next returns the next chunk, or io.EOF after the last one. The
	// caller takes ownership of the returned chunk and must Free it.
	Next(ctx context.Context) (*dataset.Chunk, error)

	// Close releases the pass. Safe to call twice.
	Close() error
}
