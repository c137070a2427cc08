package dataset

import (
	"context"
	"errors"
	"fmt"
)

// Failure classes. Every error surfaced by a run wraps exactly one of these
// sentinels so callers can branch with errors.Is without string matching.
//
// None of them is retried automatically: a failing chunk aborts the whole
// run. Only null handling inside transforms is recoverable, and only through
// an explicit policy.
var (
	// ErrSourceUnavailable: the input cannot be opened or read (missing
	// file, unreadable bytes, non-200 response, corrupt frame).
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSchemaMismatch: the data does not match the declared schema.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrTransformFailure: a transform could not be applied to a row.
	ErrTransformFailure = errors.New("transform failure")

	// ErrWriteFailure: the destination rejected or lost staged output.
	ErrWriteFailure = errors.New("write failure")

	// ErrCancelled: the caller's deadline or cancellation fired mid-run.
	ErrCancelled = errors.New("run cancelled")
)

// SchemaError reports a declared-schema violation at a specific cell.
// Row is 1-based over the input as read (a header line counts), so the
// number matches what an operator sees opening the file.
type SchemaError struct {
	Row    int64
	Column string
	Value  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("schema mismatch: row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("schema mismatch: row %d, column %q: %s (value %q)", e.Row, e.Column, e.Reason, e.Value)
}

func (e *SchemaError) Unwrap() error { return ErrSchemaMismatch }

// TransformError reports a transform failure at a specific cell. Row is the
// 0-based offset within the chunk being transformed; the pipeline adds the
// chunk index when it wraps the error.
type TransformError struct {
	Op     string
	Row    int
	Column string
	Reason string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %q: row offset %d, column %q: %s", e.Op, e.Row, e.Column, e.Reason)
}

func (e *TransformError) Unwrap() error { return ErrTransformFailure }

// ChunkError names the chunk a run failed on. The pipeline wraps every
// mid-run failure in one so operators get "chunk 17: ..." in logs and
// callers can recover the index programmatically.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string { return fmt.Sprintf("chunk %d: %v", e.Index, e.Err) }

func (e *ChunkError) Unwrap() error { return e.Err }

// Classify maps an error to its failure-class label, for logs and metrics.
// Context cancellation and deadline expiry classify as cancelled whether or
// not they were re-wrapped.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrTransformFailure):
		return "transform_failure"
	case errors.Is(err, ErrWriteFailure):
		return "write_failure"
	default:
		return "internal"
	}
}
