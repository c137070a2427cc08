// This file turns a validated pipeline document into runnable components.
// It is the only place that maps config kinds onto concrete readers,
// transforms, aggregators, and sinks; everything below it works against
// interfaces.
package main

import (
	"context"
	"fmt"
	"time"

	"tabpipe/internal/aggregate"
	"tabpipe/internal/chunkfile"
	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
	"tabpipe/internal/lookup"
	"tabpipe/internal/model"
	"tabpipe/internal/pipeline"
	"tabpipe/internal/sink"
	"tabpipe/internal/source"
	"tabpipe/internal/source/csvsrc"
	"tabpipe/internal/source/jsonl"
	"tabpipe/internal/transform"
)

// buildSpec assembles a pipeline.Spec from the document. The selection is
// compiled once and pushed down into the reader, so the run itself carries
// no pipeline-level predicate.
func buildSpec(ctx context.Context, p config.Pipeline) (pipeline.Spec, error) {
	schema, err := schemaFromSpec(p.Schema)
	if err != nil {
		return pipeline.Spec{}, err
	}

	pred, err := dataset.CompileSelection(schema, selectionFromSpec(p.Selection))
	if err != nil {
		return pipeline.Spec{}, fmt.Errorf("selection: %w", err)
	}

	reader, err := readerFromSpec(p, schema, pred)
	if err != nil {
		return pipeline.Spec{}, err
	}

	tc, err := contextFromSpec(ctx, p)
	if err != nil {
		return pipeline.Spec{}, err
	}

	transforms, outSchema, err := transformsFromSpec(p.Transforms, schema)
	if err != nil {
		return pipeline.Spec{}, err
	}

	aggs, err := aggregatesFromSpec(p.Aggregate, outSchema)
	if err != nil {
		return pipeline.Spec{}, err
	}

	spec := pipeline.Spec{
		Reader:        reader,
		Transforms:    transforms,
		TC:            tc,
		Aggs:          aggs,
		Workers:       p.Runtime.Workers,
		ProgressEvery: progressFromSpec(p.Runtime),
		Job:           p.Name,
	}
	if p.Sink.Kind != "" {
		spec.Sink, spec.Mode, err = sinkFromSpec(p)
		if err != nil {
			return pipeline.Spec{}, err
		}
	}
	return spec, nil
}

// schemaFromSpec materializes the declared columns. Kinds come from the
// document and are never inferred; a bad kind fails here, before any data
// is touched.
func schemaFromSpec(d config.Declared) (dataset.Schema, error) {
	schema := make(dataset.Schema, 0, len(d.Columns))
	for _, c := range d.Columns {
		kind, err := dataset.ParseKind(c.Kind)
		if err != nil {
			return nil, fmt.Errorf("schema: column %q: %w", c.Name, err)
		}
		schema = append(schema, dataset.Column{
			Name:   c.Name,
			Kind:   kind,
			Levels: c.Levels,
			Layout: c.Layout,
		})
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return schema, nil
}

func selectionFromSpec(sels []config.Selection) []dataset.Selection {
	out := make([]dataset.Selection, len(sels))
	for i, s := range sels {
		out[i] = dataset.Selection{Column: s.Column, Op: s.Op, Value: s.Value}
	}
	return out
}

func readerFromSpec(p config.Pipeline, schema dataset.Schema, pred dataset.RowPredicate) (source.Reader, error) {
	opt := sourceOptions(p)
	switch p.Source.Kind {
	case "csv":
		return csvsrc.New(p.Source.Location, schema, opt, pred)
	case "jsonl":
		return jsonl.New(p.Source.Location, schema, opt, pred)
	case "chunkfile":
		return chunkfile.New(p.Source.Location, schema, opt, pred)
	default:
		return nil, fmt.Errorf("unsupported source.kind=%q", p.Source.Kind)
	}
}

// sourceOptions copies the source options bag and lets runtime.chunk_rows
// set the chunk size unless the source block pinned one itself.
func sourceOptions(p config.Pipeline) config.Options {
	opt := config.Options{}
	for k, v := range p.Source.Options {
		opt[k] = v
	}
	if p.Runtime.ChunkRows > 0 && !opt.Has("chunk_rows") {
		opt["chunk_rows"] = float64(p.Runtime.ChunkRows)
	}
	return opt
}

// contextFromSpec loads the run's read-only collaborators: lookup tables
// from disk and models fitted from their declared options.
func contextFromSpec(ctx context.Context, p config.Pipeline) (*transform.Context, error) {
	tc := &transform.Context{}
	if len(p.Lookups) > 0 {
		tc.Lookups = make(map[string]*lookup.Table, len(p.Lookups))
		for _, l := range p.Lookups {
			t, err := lookup.LoadCSV(ctx, l.Name, l.Path, l.Key, l.Value, l.ValueKind)
			if err != nil {
				return nil, err
			}
			tc.Lookups[l.Name] = t
		}
	}
	if len(p.Models) > 0 {
		tc.Models = make(map[string]model.Model, len(p.Models))
		for _, m := range p.Models {
			tr, err := model.NewTrainer(m.Kind, m.Options)
			if err != nil {
				return nil, fmt.Errorf("model %q: %w", m.Name, err)
			}
			fitted, err := tr.Fit(ctx, nil, nil)
			if err != nil {
				return nil, fmt.Errorf("model %q: fit: %w", m.Name, err)
			}
			tc.Models[m.Name] = fitted
		}
	}
	return tc, nil
}

// transformsFromSpec builds the chain in order, folding each step's output
// schema into the next step's input, and returns the final schema the sink
// and aggregates will see.
func transformsFromSpec(steps []config.Step, schema dataset.Schema) ([]transform.Transform, dataset.Schema, error) {
	out := make([]transform.Transform, 0, len(steps))
	cur := schema
	for i, s := range steps {
		tr, err := transform.New(s.Kind, s.Options, cur)
		if err != nil {
			return nil, nil, fmt.Errorf("transforms[%d]: %w", i, err)
		}
		next, err := tr.OutSchema(cur)
		if err != nil {
			return nil, nil, fmt.Errorf("transforms[%d]: %w", i, err)
		}
		out = append(out, tr)
		cur = next
	}
	return out, cur, nil
}

func aggregatesFromSpec(steps []config.Step, schema dataset.Schema) ([]aggregate.Aggregator, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	out := make([]aggregate.Aggregator, 0, len(steps))
	for i, s := range steps {
		a, err := aggregate.New(s.Kind, s.Options, schema)
		if err != nil {
			return nil, fmt.Errorf("aggregate[%d]: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func sinkFromSpec(p config.Pipeline) (sink.Writer, sink.Mode, error) {
	mode, err := sink.ParseMode(p.Sink.Mode)
	if err != nil {
		return nil, 0, fmt.Errorf("sink: %w", err)
	}
	w, err := sink.New(p.Sink.Kind, sink.Config{
		Location:  p.Sink.Location,
		DSN:       p.Sink.DSN,
		Table:     p.Sink.Table,
		BatchRows: p.Runtime.BatchRows,
		Options:   p.Sink.Options,
	})
	if err != nil {
		return nil, 0, err
	}
	return w, mode, nil
}

// progressFromSpec parses runtime.progress_every. The linter already
// rejected malformed durations, so a parse failure just keeps the default.
func progressFromSpec(r config.Runtime) time.Duration {
	if r.ProgressEvery == "" {
		return 0
	}
	d, err := time.ParseDuration(r.ProgressEvery)
	if err != nil {
		return 0
	}
	return d
}
