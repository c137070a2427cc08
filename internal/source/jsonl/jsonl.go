// Package jsonl reads JSON-lines (one object per line) datasets as chunk
// sequences under a declared schema. Field lookup is by name; a missing key
// or an explicit JSON null is a null cell, while a value of the wrong JSON
// type is a schema mismatch.
package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
	"tabpipe/internal/source"
)

// Reader is a restartable JSON-lines chunk source.
//
// Options:
//   - chunk_rows (int, default 1024)
//   - header_map (object): input key -> declared column name
type Reader struct {
	location string
	schema   dataset.Schema
	opt      config.Options
	pred     dataset.RowPredicate

	chunkRows int
	keys      []string // input key per declared column, after header_map
}

// New compiles a reader for location against the declared schema. pred may
// be nil.
func New(location string, schema dataset.Schema, opt config.Options, pred dataset.RowPredicate) (*Reader, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("jsonl source: %w", err)
	}
	if opt == nil {
		opt = config.Options{}
	}
	// header_map is declared name <- input key; invert it so each declared
	// column knows which input key feeds it.
	keys := make([]string, len(schema))
	inv := make(map[string]string)
	for from, to := range opt.StringMap("header_map") {
		inv[to] = from
	}
	for i, col := range schema {
		if from, ok := inv[col.Name]; ok {
			keys[i] = from
		} else {
			keys[i] = col.Name
		}
	}
	return &Reader{
		location:  location,
		schema:    schema.Clone(),
		opt:       opt,
		pred:      pred,
		chunkRows: opt.Int("chunk_rows", 1024),
		keys:      keys,
	}, nil
}

// Schema returns the declared schema.
func (r *Reader) Schema() dataset.Schema { return r.schema }

// Open starts a fresh pass over the location.
func (r *Reader) Open(ctx context.Context) (source.Cursor, error) {
	src, err := source.OpenLocation(ctx, r.location)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(src)
	dec.UseNumber()
	return &cursor{r: r, src: src, dec: dec}, nil
}

type cursor struct {
	r   *Reader
	src io.ReadCloser
	dec *json.Decoder

	line   int64
	chunks int
	eof    bool
}

func (c *cursor) Next(ctx context.Context) (*dataset.Chunk, error) {
	if c.eof {
		return nil, io.EOF
	}
	rows := make([]*dataset.Row, 0, c.r.chunkRows)
	fail := func(err error) (*dataset.Chunk, error) {
		for _, row := range rows {
			row.Free()
		}
		return nil, err
	}

	for len(rows) < c.r.chunkRows {
		select {
		case <-ctx.Done():
			return fail(ctx.Err())
		default:
		}

		var obj map[string]any
		err := c.dec.Decode(&obj)
		if err == io.EOF {
			c.eof = true
			break
		}
		c.line++
		if err != nil {
			return fail(fmt.Errorf("%w: read %s: record %d: %w", dataset.ErrSourceUnavailable, c.r.location, c.line, err))
		}

		row := dataset.GetRow(len(c.r.schema))
		for i, col := range c.r.schema {
			raw, ok := obj[c.r.keys[i]]
			if !ok || raw == nil {
				row.V[i] = nil
				continue
			}
			v, reason := decodeJSONCell(col, raw)
			if reason != "" {
				row.Free()
				return fail(&dataset.SchemaError{Row: c.line, Column: col.Name, Value: fmt.Sprint(raw), Reason: reason})
			}
			row.V[i] = v
		}

		if c.r.pred != nil && !c.r.pred(row) {
			row.Free()
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, io.EOF
	}
	ch := &dataset.Chunk{Index: c.chunks, Rows: rows}
	c.chunks++
	return ch, nil
}

func (c *cursor) Close() error {
	if c.src == nil {
		return nil
	}
	err := c.src.Close()
	c.src = nil
	return err
}

// decodeJSONCell checks one JSON value against its declaration. The second
// return is the mismatch reason, empty on success.
func decodeJSONCell(col dataset.Column, raw any) (any, string) {
	switch col.Kind {
	case dataset.KindNumeric:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, "value is not a JSON number"
		}
		f, err := n.Float64()
		if err != nil {
			return nil, "cannot parse as numeric"
		}
		return f, ""
	case dataset.KindCategorical:
		s, ok := raw.(string)
		if !ok {
			return nil, "value is not a JSON string"
		}
		if col.LevelIndex(s) < 0 {
			return nil, "value not in declared levels"
		}
		return s, ""
	case dataset.KindTimestamp:
		s, ok := raw.(string)
		if !ok {
			return nil, "value is not a JSON string"
		}
		t, err := time.Parse(col.TimeLayout(), s)
		if err != nil {
			return nil, fmt.Sprintf("does not match layout %q", col.TimeLayout())
		}
		return t.UTC(), ""
	default: // text
		s, ok := raw.(string)
		if !ok {
			return nil, "value is not a JSON string"
		}
		return s, ""
	}
}
