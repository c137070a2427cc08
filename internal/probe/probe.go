// Package probe samples the head of a tabular file and proposes a declared
// schema for it. The proposal is a starting point for a pipeline document:
// kinds are guessed from the sampled values and header names are normalized
// to identifier form. The operator is expected to review the stub before
// running with it.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

// Defaults applied when the corresponding Options field is zero.
const (
	DefaultSampleBytes = 64 * 1024
	DefaultMaxLevels   = 12
)

// Options control sampling and the categorical cutoff.
type Options struct {
	// Location is a local path or an http(s) URL.
	Location string

	// SampleBytes caps how much of the input head is read. Zero means
	// DefaultSampleBytes.
	SampleBytes int

	// MaxLevels is the most distinct values a column may show in the
	// sample and still be proposed as categorical. Zero means
	// DefaultMaxLevels.
	MaxLevels int
}

// Result is a schema proposal together with what it was based on.
type Result struct {
	// Schema is ready to paste into a pipeline document's schema block.
	Schema config.Declared

	// Delimiter is the sniffed field separator.
	Delimiter rune

	// Rows is how many complete data rows informed the proposal.
	Rows int
}

// Probe reads up to SampleBytes from the location, sniffs the delimiter, and
// proposes one column per header field:
//
//   - values that all parse as numbers propose numeric
//   - values that all parse under one time layout propose timestamp,
//     carrying the layout when it is not RFC 3339
//   - a bounded distinct set proposes categorical with the observed levels
//   - everything else, including all-null columns, proposes text
//
// Empty cells never vote. Header names are normalized to identifier form and
// deduplicated, so the proposal passes schema validation as written.
func Probe(ctx context.Context, opt Options) (Result, error) {
	if opt.SampleBytes <= 0 {
		opt.SampleBytes = DefaultSampleBytes
	}
	if opt.MaxLevels <= 0 {
		opt.MaxLevels = DefaultMaxLevels
	}

	data, err := sampleHead(ctx, opt.Location, opt.SampleBytes)
	if err != nil {
		return Result{}, err
	}
	if len(data) == opt.SampleBytes {
		// A full buffer usually ends mid-row. Cut at the last newline so a
		// torn row cannot skew the proposal.
		if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
			data = data[:i+1]
		}
	}

	delim := sniffDelimiter(data)
	header, rows := readSample(data, delim)
	if len(header) == 0 {
		return Result{}, fmt.Errorf("probe %s: no header row in the first %d bytes", opt.Location, opt.SampleBytes)
	}

	names := make([]string, len(header))
	for i, h := range header {
		names[i] = normalizeName(h)
	}
	names = dedupeNames(names)

	return Result{
		Schema:    config.Declared{Columns: proposeColumns(names, rows, opt.MaxLevels)},
		Delimiter: delim,
		Rows:      len(rows),
	}, nil
}

func proposeColumns(names []string, rows [][]string, maxLevels int) []config.Column {
	cols := make([]config.Column, len(names))
	for i, name := range names {
		cols[i] = proposeColumn(name, columnValues(rows, i), maxLevels)
	}
	return cols
}

func proposeColumn(name string, values []string, maxLevels int) config.Column {
	col := config.Column{Name: name, Kind: dataset.KindText.String()}
	if len(values) == 0 {
		return col
	}

	if allMatch(values, isNumber) {
		col.Kind = dataset.KindNumeric.String()
		return col
	}

	if layout := commonTimeLayout(values); layout != "" {
		col.Kind = dataset.KindTimestamp.String()
		if layout != time.RFC3339 {
			col.Layout = layout
		}
		return col
	}

	if levels := boundedLevels(values, maxLevels); levels != nil {
		col.Kind = dataset.KindCategorical.String()
		col.Levels = levels
		return col
	}
	return col
}

// columnValues collects the non-empty trimmed cells of column i. An empty
// cell is the null spelling and carries no kind information.
func columnValues(rows [][]string, i int) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if i >= len(r) {
			continue
		}
		v := strings.TrimSpace(r[i])
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func allMatch(values []string, fn func(string) bool) bool {
	for _, v := range values {
		if !fn(v) {
			return false
		}
	}
	return true
}

// isNumber accepts signed integers, decimals, and scientific notation. The
// numeric kind stores float64, so integers and reals propose the same kind.
func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// timeLayouts are tried in order; the first layout every sampled value parses
// under wins. Month-first forms sit above day-first ones because the datasets
// this tool grew up on are US-sourced, so ambiguous samples resolve
// month-first.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 -0700",
	"01/02/2006 03:04:05 PM",
	"01/02/2006 15:04:05",
	"02/01/2006 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
}

// commonTimeLayout returns the first layout that parses every value, or ""
// when no single layout covers the column. One shared layout is required
// because a timestamp column is later parsed with exactly one layout.
func commonTimeLayout(values []string) string {
	for _, layout := range timeLayouts {
		ok := true
		for _, v := range values {
			if _, err := time.Parse(layout, v); err != nil {
				ok = false
				break
			}
		}
		if ok {
			return layout
		}
	}
	return ""
}

// boundedLevels returns the sorted distinct values when there are at most
// maxLevels of them, else nil. Sorting keeps the stub stable across runs.
func boundedLevels(values []string, maxLevels int) []string {
	distinct := make(map[string]struct{}, maxLevels+1)
	for _, v := range values {
		distinct[v] = struct{}{}
		if len(distinct) > maxLevels {
			return nil
		}
	}
	levels := make([]string, 0, len(distinct))
	for v := range distinct {
		levels = append(levels, v)
	}
	sort.Strings(levels)
	return levels
}
