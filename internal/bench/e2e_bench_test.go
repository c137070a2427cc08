// Package bench holds end-to-end benchmarks of the run hot path. The I/O
// edges are swapped for in-memory fakes, so the numbers reflect transform,
// aggregation, and ordered-delivery overhead rather than disk or driver
// speed.
package bench

import (
	"context"
	"io"
	"testing"
	"time"

	"tabpipe/internal/aggregate"
	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
	"tabpipe/internal/pipeline"
	"tabpipe/internal/sink"
	"tabpipe/internal/source"
	"tabpipe/internal/transform"
)

var zoneLevels = []string{"JFK", "LGA", "EWR"}

var pickupBase = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func benchSchema() dataset.Schema {
	return dataset.Schema{
		{Name: "amount", Kind: dataset.KindNumeric},
		{Name: "zone", Kind: dataset.KindCategorical, Levels: zoneLevels},
		{Name: "picked_up", Kind: dataset.KindTimestamp},
	}
}

// memReader serves a fixed number of synthesized chunks per pass.
type memReader struct {
	schema dataset.Schema
	chunks int
	rows   int
}

func (r *memReader) Schema() dataset.Schema { return r.schema }

func (r *memReader) Open(ctx context.Context) (source.Cursor, error) {
	return &memCursor{r: r}, nil
}

type memCursor struct {
	r    *memReader
	next int
}

func (c *memCursor) Next(ctx context.Context) (*dataset.Chunk, error) {
	if c.next >= c.r.chunks {
		return nil, io.EOF
	}
	chunk := &dataset.Chunk{Index: c.next, Rows: make([]*dataset.Row, 0, c.r.rows)}
	for i := 0; i < c.r.rows; i++ {
		row := dataset.GetRow(len(c.r.schema))
		row.V[0] = float64(c.next*c.r.rows + i)
		row.V[1] = zoneLevels[i%len(zoneLevels)]
		row.V[2] = pickupBase.Add(time.Duration(i) * time.Second)
		chunk.Rows = append(chunk.Rows, row)
	}
	c.next++
	return chunk, nil
}

func (c *memCursor) Close() error { return nil }

// discardSink accepts every chunk and throws the bytes away.
type discardSink struct{}

func (discardSink) Begin(ctx context.Context, schema dataset.Schema, mode sink.Mode) (sink.Session, error) {
	return discardSession{}, nil
}

type discardSession struct{}

func (discardSession) Write(ctx context.Context, chunk *dataset.Chunk) error { return nil }
func (discardSession) Commit(ctx context.Context) error                      { return nil }
func (discardSession) Abort() error                                          { return nil }

/*
BenchmarkRunDerive measures a full run that derives one column over the
worker pool and delivers in order to a sink that discards everything.
*/
func BenchmarkRunDerive(b *testing.B) {
	schema := benchSchema()
	reader := &memReader{schema: schema, chunks: 64, rows: 512}
	tr, err := transform.New("derive", config.Options{
		"dest":    "amount_doubled",
		"source":  "amount",
		"op":      "mul",
		"operand": 2.0,
	}, schema)
	if err != nil {
		b.Fatal(err)
	}

	spec := pipeline.Spec{
		Reader:        reader,
		Transforms:    []transform.Transform{tr},
		Sink:          discardSink{},
		Workers:       4,
		ProgressEvery: time.Hour,
		Job:           "bench",
	}
	want := int64(reader.chunks * reader.rows)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res, err := pipeline.Run(context.Background(), spec)
		if err != nil {
			b.Fatal(err)
		}
		if res.RowsOut != want {
			b.Fatalf("rows_out=%d; want %d", res.RowsOut, want)
		}
	}
}

/*
BenchmarkRunStats measures an aggregate-only run: no sink session, chunks
are folded into per-worker stats forks and merged once at the end.
*/
func BenchmarkRunStats(b *testing.B) {
	schema := benchSchema()
	reader := &memReader{schema: schema, chunks: 64, rows: 512}
	want := int64(reader.chunks * reader.rows)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Aggregators hold run state, so each iteration gets a fresh one.
		agg, err := aggregate.New("stats", config.Options{"column": "amount"}, schema)
		if err != nil {
			b.Fatal(err)
		}
		res, err := pipeline.Run(context.Background(), pipeline.Spec{
			Reader:        reader,
			Aggs:          []aggregate.Aggregator{agg},
			Workers:       4,
			ProgressEvery: time.Hour,
			Job:           "bench",
		})
		if err != nil {
			b.Fatal(err)
		}
		if res.RowsIn != want {
			b.Fatalf("rows_in=%d; want %d", res.RowsIn, want)
		}
	}
}
