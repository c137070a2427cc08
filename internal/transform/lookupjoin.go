package transform

import (
	"context"
	"fmt"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

func init() {
	Register("lookupjoin", newLookupjoin)
}

// lookupjoin appends a column by looking the key column up in a named
// table from the run Context. The table itself is only reachable at Apply
// time, so the destination kind is declared up front via value_kind and
// checked against the table on first use.
type lookupjoin struct {
	dest   string
	key    string
	table  string
	kind   dataset.Kind
	absent string
	policy nullPolicy
	fill   string
	keyIx  int
}

func newLookupjoin(opts config.Options, schema dataset.Schema) (Transform, error) {
	lj := &lookupjoin{
		dest:   opts.String("dest", ""),
		key:    opts.String("key", ""),
		table:  opts.String("table", ""),
		absent: opts.String("absent", "null"),
	}
	if lj.dest == "" || lj.key == "" || lj.table == "" {
		return nil, fmt.Errorf("transform: lookupjoin requires dest, key and table options")
	}
	kind, err := dataset.ParseKind(opts.String("value_kind", "text"))
	if err != nil {
		return nil, fmt.Errorf("transform: lookupjoin: %w", err)
	}
	if kind == dataset.KindCategorical {
		return nil, fmt.Errorf("transform: lookupjoin: value_kind cannot be categorical")
	}
	lj.kind = kind
	if lj.absent != "null" && lj.absent != "fail" {
		return nil, fmt.Errorf("transform: lookupjoin: absent must be \"null\" or \"fail\", got %q", lj.absent)
	}
	var fillRaw any
	if lj.policy, fillRaw, err = parsePolicy(opts); err != nil {
		return nil, err
	}
	if lj.policy == nullFill {
		s, ok := fillRaw.(string)
		if !ok {
			return nil, fmt.Errorf("transform: lookupjoin fill_value must be a string key, got %T", fillRaw)
		}
		lj.fill = s
	}
	if _, err := lj.OutSchema(schema); err != nil {
		return nil, err
	}
	lj.keyIx, _ = schema.Index(lj.key)
	return lj, nil
}

func (lj *lookupjoin) Name() string { return "lookupjoin" }

func (lj *lookupjoin) OutSchema(in dataset.Schema) (dataset.Schema, error) {
	ix, ok := in.Index(lj.key)
	if !ok {
		return nil, fmt.Errorf("transform: lookupjoin: unknown column %q", lj.key)
	}
	if k := in[ix].Kind; k != dataset.KindText && k != dataset.KindCategorical {
		return nil, fmt.Errorf("transform: lookupjoin: key column %q is %s; keys must be text or categorical", lj.key, k)
	}
	return in.WithColumn(dataset.Column{Name: lj.dest, Kind: lj.kind})
}

func (lj *lookupjoin) Apply(ctx context.Context, chunk *dataset.Chunk, tc *Context) (*dataset.Chunk, error) {
	tbl, ok := tc.Lookup(lj.table)
	if !ok {
		return nil, fmt.Errorf("%w: lookupjoin: table %q is not bound in the run context", dataset.ErrTransformFailure, lj.table)
	}
	if tbl.Kind() != lj.kind {
		return nil, fmt.Errorf("%w: lookupjoin: table %q holds %s values, transform declares %s", dataset.ErrTransformFailure, lj.table, tbl.Kind(), lj.kind)
	}
	for i, row := range chunk.Rows {
		k, haveKey := row.V[lj.keyIx].(string)
		if !haveKey {
			switch lj.policy {
			case nullPropagate:
				row.V = append(row.V, nil)
				continue
			case nullFail:
				return nil, &dataset.TransformError{Op: "lookupjoin", Row: i, Column: lj.key, Reason: "null key"}
			case nullFill:
				k = lj.fill
			}
		}
		v, found := tbl.Get(k)
		if !found {
			if lj.absent == "fail" {
				return nil, &dataset.TransformError{Op: "lookupjoin", Row: i, Column: lj.key, Reason: fmt.Sprintf("key %q not found in table %q", k, lj.table)}
			}
			row.V = append(row.V, nil)
			continue
		}
		row.V = append(row.V, v)
	}
	return chunk, nil
}
