// Package csvsrc reads delimited text files as chunk sequences. Column types
// are declared by the caller; a cell that does not fit its declaration is a
// schema mismatch reported with the row and column, never a guess.
package csvsrc

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
	"tabpipe/internal/source"
)

const utf8BOM = "\uFEFF"

// Reader is a restartable CSV chunk source.
//
// Options:
//   - header (bool, default true): first record is a header; declared
//     columns are located by name after header_map canonicalization.
//     Without a header, columns bind positionally and every record must
//     carry at least as many fields as the schema declares.
//   - delimiter (string, first rune, default ","), trim_space (bool,
//     default true), lazy_quotes (bool, default false)
//   - null_markers ([]string, default [""]): cell spellings that decode to
//     null, checked after trimming
//   - header_map (object): file header name -> declared column name
//   - chunk_rows (int, default 1024)
type Reader struct {
	location string
	schema   dataset.Schema
	opt      config.Options
	pred     dataset.RowPredicate

	chunkRows int
	decoders  []source.CellDecoder
	nulls     map[string]struct{}
}

// New compiles a reader for location against the declared schema. pred may
// be nil. Compilation validates the schema and resolves the per-column
// decode plan; touching the bytes waits until Open.
func New(location string, schema dataset.Schema, opt config.Options, pred dataset.RowPredicate) (*Reader, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("csv source: %w", err)
	}
	if opt == nil {
		opt = config.Options{}
	}
	nulls := map[string]struct{}{"": {}}
	if opt.Has("null_markers") {
		nulls = make(map[string]struct{})
		for _, m := range opt.StringSlice("null_markers") {
			nulls[m] = struct{}{}
		}
	}
	return &Reader{
		location:  location,
		schema:    schema.Clone(),
		opt:       opt,
		pred:      pred,
		chunkRows: opt.Int("chunk_rows", 1024),
		decoders:  source.CompileCellDecoders(schema),
		nulls:     nulls,
	}, nil
}

// Schema returns the declared schema.
func (r *Reader) Schema() dataset.Schema { return r.schema }

// Open starts a fresh pass: it opens the location, reads and binds the
// header when one is declared, and fails eagerly when a declared column
// cannot be located, before any chunk is produced.
func (r *Reader) Open(ctx context.Context) (source.Cursor, error) {
	src, err := source.OpenLocation(ctx, r.location)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(src)
	cr.Comma = r.opt.Rune("delimiter", ',')
	cr.ReuseRecord = true
	cr.LazyQuotes = r.opt.Bool("lazy_quotes", false)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = false

	cur := &cursor{
		r:      r,
		src:    src,
		cr:     cr,
		trim:   r.opt.Bool("trim_space", true),
		header: r.opt.Bool("header", true),
		colIx:  make([]int, len(r.schema)),
	}
	if err := cur.bindColumns(); err != nil {
		cur.Close()
		return nil, err
	}
	return cur, nil
}

type cursor struct {
	r      *Reader
	src    io.ReadCloser
	cr     *csv.Reader
	trim   bool
	header bool

	colIx  []int // declared index -> file field index
	line   int64 // records read, header included; 1-based in errors
	chunks int
	eof    bool
}

// bindColumns builds the declared->file field mapping. With a header the
// first record is consumed and each declared column must be found; without
// one the mapping is positional and checked per record.
func (c *cursor) bindColumns() error {
	if !c.header {
		for i := range c.colIx {
			c.colIx[i] = i
		}
		return nil
	}

	hdr, err := c.read()
	if err == io.EOF {
		return &dataset.SchemaError{Row: 1, Reason: "input is empty; expected a header record"}
	}
	if err != nil {
		return fmt.Errorf("%w: read header from %s: %w", dataset.ErrSourceUnavailable, c.r.location, err)
	}

	hm := c.r.opt.StringMap("header_map")
	fileIx := make(map[string]int, len(hdr))
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		h = strings.TrimSpace(h)
		if mapped, ok := hm[h]; ok {
			h = mapped
		}
		fileIx[h] = i
	}

	for i, col := range c.r.schema {
		ix, ok := fileIx[col.Name]
		if !ok {
			return &dataset.SchemaError{Row: 1, Column: col.Name, Reason: "column not found in header"}
		}
		c.colIx[i] = ix
	}
	return nil
}

func (c *cursor) read() ([]string, error) {
	rec, err := c.cr.Read()
	if err == nil {
		c.line++
	}
	return rec, err
}

// Next assembles the next chunk, applying the pushed-down selection before
// rows are admitted. It returns io.EOF once the input is exhausted.
func (c *cursor) Next(ctx context.Context) (*dataset.Chunk, error) {
	if c.eof {
		return nil, io.EOF
	}
	schema := c.r.schema
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

		rec, err := c.read()
		if err == io.EOF {
			c.eof = true
			break
		}
		if err != nil {
			return fail(fmt.Errorf("%w: read %s: record %d: %w", dataset.ErrSourceUnavailable, c.r.location, c.line+1, err))
		}
		if !c.header && len(rec) < len(schema) {
			return fail(&dataset.SchemaError{
				Row:    c.line,
				Reason: fmt.Sprintf("record has %d fields; schema declares %d", len(rec), len(schema)),
			})
		}

		row := dataset.GetRow(len(schema))
		for i := range schema {
			ix := c.colIx[i]
			if ix >= len(rec) {
				row.V[i] = nil
				continue
			}
			cell := rec[ix]
			if c.trim {
				cell = strings.TrimSpace(cell)
			}
			if _, isNull := c.r.nulls[cell]; isNull {
				row.V[i] = nil
				continue
			}
			v, err := c.r.decoders[i](cell)
			if err != nil {
				row.Free()
				return fail(&dataset.SchemaError{Row: c.line, Column: schema[i].Name, Value: cell, Reason: err.Error()})
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

// Close releases the underlying bytes. Safe to call twice.
func (c *cursor) Close() error {
	if c.src == nil {
		return nil
	}
	err := c.src.Close()
	c.src = nil
	return err
}
