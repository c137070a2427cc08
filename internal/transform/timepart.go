package transform

import (
	"context"
	"fmt"
	"time"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

func init() {
	Register("timepart", newTimepart)
}

// weekdayLevels is Monday-first, matching how the source material buckets
// trip data by day of week.
var weekdayLevels = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

var timeparts = map[string]bool{
	"year": true, "month": true, "day": true, "hour": true, "minute": true,
	"weekday": true,
}

// timepart derives a calendar component from a timestamp column. Numeric
// parts (year, month, day, hour, minute) come out as numeric; weekday is a
// categorical with a fixed Monday-first level set. Components are computed
// in UTC, which is the zone timestamps are normalized to at decode.
type timepart struct {
	dest   string
	source string
	part   string
	policy nullPolicy
	fill   time.Time
	srcIx  int
}

func newTimepart(opts config.Options, schema dataset.Schema) (Transform, error) {
	tp := &timepart{
		dest:   opts.String("dest", ""),
		source: opts.String("source", ""),
		part:   opts.String("part", ""),
	}
	if tp.dest == "" || tp.source == "" {
		return nil, fmt.Errorf("transform: timepart requires dest and source options")
	}
	if !timeparts[tp.part] {
		return nil, fmt.Errorf("transform: timepart part must be year/month/day/hour/minute/weekday, got %q", tp.part)
	}
	var fillRaw any
	var err error
	if tp.policy, fillRaw, err = parsePolicy(opts); err != nil {
		return nil, err
	}
	if _, err := tp.OutSchema(schema); err != nil {
		return nil, err
	}
	tp.srcIx, _ = schema.Index(tp.source)
	if tp.policy == nullFill {
		v, err := coerceCell(schema[tp.srcIx], fillRaw)
		if err != nil {
			return nil, fmt.Errorf("transform: timepart: %w", err)
		}
		tp.fill = v.(time.Time)
	}
	return tp, nil
}

func (tp *timepart) Name() string { return "timepart" }

func (tp *timepart) OutSchema(in dataset.Schema) (dataset.Schema, error) {
	ix, ok := in.Index(tp.source)
	if !ok {
		return nil, fmt.Errorf("transform: timepart: unknown column %q", tp.source)
	}
	if in[ix].Kind != dataset.KindTimestamp {
		return nil, fmt.Errorf("transform: timepart: column %q is %s, not timestamp", tp.source, in[ix].Kind)
	}
	col := dataset.Column{Name: tp.dest, Kind: dataset.KindNumeric}
	if tp.part == "weekday" {
		col = dataset.Column{Name: tp.dest, Kind: dataset.KindCategorical, Levels: weekdayLevels}
	}
	return in.WithColumn(col)
}

func (tp *timepart) Apply(ctx context.Context, chunk *dataset.Chunk, tc *Context) (*dataset.Chunk, error) {
	for i, row := range chunk.Rows {
		t, ok := row.V[tp.srcIx].(time.Time)
		if !ok {
			switch tp.policy {
			case nullPropagate:
				row.V = append(row.V, nil)
				continue
			case nullFail:
				return nil, &dataset.TransformError{Op: "timepart", Row: i, Column: tp.source, Reason: "null input"}
			case nullFill:
				t = tp.fill
			}
		}
		row.V = append(row.V, tp.extract(t))
	}
	return chunk, nil
}

func (tp *timepart) extract(t time.Time) any {
	switch tp.part {
	case "year":
		return float64(t.Year())
	case "month":
		return float64(t.Month())
	case "day":
		return float64(t.Day())
	case "hour":
		return float64(t.Hour())
	case "minute":
		return float64(t.Minute())
	default:
		// time.Weekday is Sunday-based; shift to the Monday-first levels.
		return weekdayLevels[(int(t.Weekday())+6)%7]
	}
}
