// Package pipeline drives one run: read chunks, transform them on a worker
// pool, and deliver them in order to a sink, an aggregator set, or both.
//
// The engine owns everything transactional about a run. It binds the output
// schema before any data moves, opens exactly one sink session, and commits
// that session only after the reader has drained cleanly and every write and
// aggregate update has succeeded. The first failure anywhere cancels the
// whole group, aborts the session, and surfaces the originating error with
// its chunk index; partial output is never visible at the destination.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"tabpipe/internal/aggregate"
	"tabpipe/internal/dataset"
	"tabpipe/internal/metrics"
	"tabpipe/internal/sink"
	"tabpipe/internal/source"
	"tabpipe/internal/transform"
)

const defaultProgressEvery = 5 * time.Second

// Spec is the complete description of one run. Construction-time validation
// (unknown transform kinds, bad options) has already happened in the
// registries; Run only checks that the pieces fit together.
type Spec struct {
	// Reader supplies the chunks. Required.
	Reader source.Reader

	// Predicate drops rows before the transform list. Readers usually
	// apply the run's selection during decoding already; set this only
	// when the reader could not push it down.
	Predicate dataset.RowPredicate

	// Transforms apply in order to every chunk.
	Transforms []transform.Transform

	// TC carries the run's shared read-only collaborators.
	TC *transform.Context

	// Sink receives transformed chunks. Nil for aggregate-only runs.
	Sink sink.Writer
	Mode sink.Mode

	// Aggs fold transformed chunks into summaries. Nil for write-only runs.
	Aggs []aggregate.Aggregator

	// Workers is the transform parallelism. Values below 1 mean 1.
	Workers int

	// ProgressEvery is the progress log interval. 0 means 5s.
	ProgressEvery time.Duration

	// Job labels progress lines and metrics. Empty means "tabpipe".
	Job string
}

// Result reports what a successful run did.
type Result struct {
	Chunks  int64             `json:"chunks"`
	RowsIn  int64             `json:"rows_in"`
	RowsOut int64             `json:"rows_out"`
	Elapsed time.Duration     `json:"elapsed"`
	Summary aggregate.Summary `json:"summary,omitempty"`
}

// Run executes the spec to completion. The returned error wraps one of the
// dataset failure sentinels; mid-run failures additionally carry the chunk
// index through dataset.ChunkError.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	job := spec.Job
	if job == "" {
		job = "tabpipe"
	}
	start := time.Now()
	res, err := execute(ctx, spec, job)
	elapsed := time.Since(start)
	if err != nil && isContextErr(err) && !errors.Is(err, dataset.ErrCancelled) {
		err = fmt.Errorf("%w: %w", dataset.ErrCancelled, err)
	}

	metrics.RecordRun(job, err, elapsed)
	if res != nil {
		res.Elapsed = elapsed
		metrics.RecordChunks(job, res.Chunks)
		metrics.RecordRows(job, "in", res.RowsIn)
		metrics.RecordRows(job, "out", res.RowsOut)
	}
	return res, err
}

// counters are shared across the producer, workers, and writer goroutines;
// the progress sampler reads them without synchronizing with the data path.
type counters struct {
	chunks  atomic.Int64
	rowsIn  atomic.Int64
	rowsOut atomic.Int64
}

type run struct {
	spec    Spec
	session sink.Session
	work    chan *dataset.Chunk
	results chan *dataset.Chunk
	forks   [][]aggregate.Aggregator
	n       counters
}

func execute(ctx context.Context, spec Spec, job string) (*Result, error) {
	if spec.Reader == nil {
		return nil, fmt.Errorf("pipeline: a reader is required")
	}
	if spec.Sink == nil && len(spec.Aggs) == 0 {
		return nil, fmt.Errorf("pipeline: a sink or at least one aggregator is required")
	}

	outSchema := spec.Reader.Schema()
	for _, t := range spec.Transforms {
		next, err := t.OutSchema(outSchema)
		if err != nil {
			return nil, fmt.Errorf("pipeline: bind transform %q: %w", t.Name(), err)
		}
		outSchema = next
	}

	workers := spec.Workers
	if workers < 1 {
		workers = 1
	}

	r := &run{
		spec: spec,
		work: make(chan *dataset.Chunk, workers),
	}
	if spec.Sink != nil {
		session, err := spec.Sink.Begin(ctx, outSchema, spec.Mode)
		if err != nil {
			return nil, err
		}
		r.session = session
		r.results = make(chan *dataset.Chunk, workers)
	}
	r.forks = make([][]aggregate.Aggregator, workers)
	for i := range r.forks {
		r.forks[i] = make([]aggregate.Aggregator, len(spec.Aggs))
		for j, a := range spec.Aggs {
			r.forks[i][j] = a.Fork()
		}
	}

	stopProgress := r.startProgress(job)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.produce(gctx) })

	g.Go(func() error {
		wg, wctx := errgroup.WithContext(gctx)
		for i := 0; i < workers; i++ {
			forks := r.forks[i]
			wg.Go(func() error { return r.worker(wctx, forks) })
		}
		err := wg.Wait()
		if err == nil && r.results != nil {
			// Closing only on a clean drain keeps the pool's own error as
			// the run's error: on failure the delivery stage exits through
			// group cancellation instead of misreading a truncated stream.
			close(r.results)
		}
		return err
	})

	if r.session != nil {
		g.Go(func() error { return r.deliver(gctx) })
	}

	err := g.Wait()
	stopProgress()

	if err != nil {
		if r.session != nil {
			r.session.Abort()
		}
		return nil, err
	}

	summary, err := r.mergeSummary()
	if err != nil {
		if r.session != nil {
			r.session.Abort()
		}
		return nil, err
	}

	if r.session != nil {
		if err := r.session.Commit(ctx); err != nil {
			return nil, err
		}
	}

	return &Result{
		Chunks:  r.n.chunks.Load(),
		RowsIn:  r.n.rowsIn.Load(),
		RowsOut: r.n.rowsOut.Load(),
		Summary: summary,
	}, nil
}

// produce drains the reader into the work channel. Chunk indexes arrive
// dense and ascending from the cursor; the delivery stage depends on that.
func (r *run) produce(ctx context.Context) error {
	defer close(r.work)

	cur, err := r.spec.Reader.Open(ctx)
	if err != nil {
		return err
	}
	defer cur.Close()

	for i := 0; ; i++ {
		chunk, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &dataset.ChunkError{Index: i, Err: err}
		}
		r.n.rowsIn.Add(int64(chunk.Len()))
		select {
		case r.work <- chunk:
		case <-ctx.Done():
			chunk.Free()
			return ctx.Err()
		}
	}
}

// worker transforms chunks and either hands them to the delivery stage or,
// on aggregate-only runs, retires them directly.
func (r *run) worker(ctx context.Context, forks []aggregate.Aggregator) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-r.work:
			if !ok {
				return nil
			}
			out, err := r.process(ctx, chunk, forks)
			if err != nil {
				return err
			}
			if r.results == nil {
				r.n.chunks.Add(1)
				r.n.rowsOut.Add(int64(out.Len()))
				out.Free()
				continue
			}
			select {
			case r.results <- out:
			case <-ctx.Done():
				out.Free()
				return ctx.Err()
			}
		}
	}
}

func (r *run) process(ctx context.Context, chunk *dataset.Chunk, forks []aggregate.Aggregator) (*dataset.Chunk, error) {
	index := chunk.Index

	if r.spec.Predicate != nil {
		kept := chunk.Rows[:0]
		for _, row := range chunk.Rows {
			if r.spec.Predicate(row) {
				kept = append(kept, row)
			} else {
				row.Free()
			}
		}
		chunk.Rows = kept
	}

	out := chunk
	for _, t := range r.spec.Transforms {
		next, err := t.Apply(ctx, out, r.spec.TC)
		if err != nil {
			out.Free()
			return nil, &dataset.ChunkError{Index: index, Err: err}
		}
		out = next
	}
	out.Index = index

	for _, a := range forks {
		if err := a.Update(out); err != nil {
			out.Free()
			return nil, &dataset.ChunkError{Index: index, Err: err}
		}
	}
	return out, nil
}

// deliver restores ascending chunk order behind the worker pool and feeds
// the single sink session. The pending buffer stays small: it can never
// hold more chunks than there are workers plus channel slots.
func (r *run) deliver(ctx context.Context) error {
	next := 0
	pending := make(map[int]*dataset.Chunk)
	fail := func(err error) error {
		for _, c := range pending {
			c.Free()
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		case chunk, ok := <-r.results:
			if !ok {
				if len(pending) > 0 {
					return fail(fmt.Errorf("pipeline: %d chunks never delivered", len(pending)))
				}
				return nil
			}
			pending[chunk.Index] = chunk
			for {
				c, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := r.session.Write(ctx, c); err != nil {
					c.Free()
					return fail(&dataset.ChunkError{Index: c.Index, Err: err})
				}
				r.n.chunks.Add(1)
				r.n.rowsOut.Add(int64(c.Len()))
				c.Free()
				next++
			}
		}
	}
}

// mergeSummary folds the per-worker partials back into the configured
// aggregators and finalizes them in configuration order.
func (r *run) mergeSummary() (aggregate.Summary, error) {
	if len(r.spec.Aggs) == 0 {
		return nil, nil
	}
	for _, forks := range r.forks {
		for j, a := range r.spec.Aggs {
			if err := a.Merge(forks[j]); err != nil {
				return nil, fmt.Errorf("pipeline: merge aggregate %q: %w", a.Name(), err)
			}
		}
	}
	summary := make(aggregate.Summary, 0, len(r.spec.Aggs))
	for _, a := range r.spec.Aggs {
		res, err := a.Finalize()
		if err != nil {
			return nil, fmt.Errorf("pipeline: finalize aggregate %q: %w", a.Name(), err)
		}
		summary = append(summary, res)
	}
	return summary, nil
}

// startProgress samples the counters on a ticker and logs a one-line status.
// Sampling never touches the data path; the returned stop function waits for
// the sampler to exit.
func (r *run) startProgress(job string) func() {
	every := r.spec.ProgressEvery
	if every <= 0 {
		every = defaultProgressEvery
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(every)
		defer t.Stop()
		start := time.Now()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				rows := r.n.rowsIn.Load()
				rps := int64(float64(rows) / time.Since(start).Seconds())
				log.Printf("%s: progress chunks=%s rows=%s rps=%s",
					job,
					humanize.Comma(r.n.chunks.Load()),
					humanize.Comma(rows),
					humanize.Comma(rps))
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
