package sink

import "context"

// DefaultBatchRows is the staging batch size used when the pipeline does
// not set runtime.batch_rows.
const DefaultBatchRows = 500

// FlushFn persists one batch of staged row values. Database sinks back it
// with a multi-row INSERT or a bulk-copy call.
type FlushFn func(ctx context.Context, rows [][]any) error

// Batcher accumulates row values and flushes every n rows. It copies the
// values it is handed, so callers may recycle their row buffers as soon as
// Add returns.
type Batcher struct {
	n     int
	width int
	rows  [][]any
	flush FlushFn
}

// NewBatcher returns a Batcher flushing every n rows of the given width.
// n <= 0 falls back to DefaultBatchRows.
func NewBatcher(width, n int, flush FlushFn) *Batcher {
	if n <= 0 {
		n = DefaultBatchRows
	}
	return &Batcher{n: n, width: width, rows: make([][]any, 0, n), flush: flush}
}

// Add stages one row, flushing if the batch is full.
func (b *Batcher) Add(ctx context.Context, values []any) error {
	row := make([]any, b.width)
	copy(row, values)
	b.rows = append(b.rows, row)
	if len(b.rows) >= b.n {
		return b.Flush(ctx)
	}
	return nil
}

// Flush persists any staged rows. It is safe to call on an empty batch.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.rows) == 0 {
		return nil
	}
	rows := b.rows
	b.rows = make([][]any, 0, b.n)
	return b.flush(ctx, rows)
}

// Pending reports how many rows are staged but not yet flushed.
func (b *Batcher) Pending() int { return len(b.rows) }
