package transform

import (
	"context"
	"fmt"
	"math"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

func init() {
	Register("derive", newDerive)
}

var deriveOps = map[string]bool{
	"add": true, "sub": true, "mul": true, "div": true, "pow": true,
	"neg": false, "abs": false, "log": false,
}

// derive appends a numeric column computed from an existing numeric column
// and, for binary ops, a literal operand or a second column.
type derive struct {
	dest    string
	source  string
	op      string
	binary  bool
	operand float64
	opCol   string
	policy  nullPolicy
	fill    float64
	srcIx   int
	opIx    int
}

func newDerive(opts config.Options, schema dataset.Schema) (Transform, error) {
	d := &derive{
		dest:   opts.String("dest", ""),
		source: opts.String("source", ""),
		op:     opts.String("op", ""),
	}
	if d.dest == "" || d.source == "" {
		return nil, fmt.Errorf("transform: derive requires dest and source options")
	}
	binary, known := deriveOps[d.op]
	if !known {
		return nil, fmt.Errorf("transform: derive op must be add/sub/mul/div/pow/neg/abs/log, got %q", d.op)
	}
	d.binary = binary
	if binary {
		switch v := opts.Any("operand").(type) {
		case float64:
			d.operand = v
		case int:
			d.operand = float64(v)
		case string:
			d.opCol = v
		case nil:
			return nil, fmt.Errorf("transform: derive op %q requires an operand (number or column name)", d.op)
		default:
			return nil, fmt.Errorf("transform: derive operand must be a number or column name, got %T", v)
		}
	}
	var fillRaw any
	var err error
	if d.policy, fillRaw, err = parsePolicy(opts); err != nil {
		return nil, err
	}
	if d.policy == nullFill {
		f, ok := fillRaw.(float64)
		if !ok {
			return nil, fmt.Errorf("transform: derive fill_value must be a number, got %T", fillRaw)
		}
		d.fill = f
	}
	if _, err := d.OutSchema(schema); err != nil {
		return nil, err
	}
	d.srcIx, _ = schema.Index(d.source)
	if d.opCol != "" {
		d.opIx, _ = schema.Index(d.opCol)
	}
	return d, nil
}

func (d *derive) Name() string { return "derive" }

func (d *derive) OutSchema(in dataset.Schema) (dataset.Schema, error) {
	for _, name := range []string{d.source, d.opCol} {
		if name == "" {
			continue
		}
		ix, ok := in.Index(name)
		if !ok {
			return nil, fmt.Errorf("transform: derive: unknown column %q", name)
		}
		if in[ix].Kind != dataset.KindNumeric {
			return nil, fmt.Errorf("transform: derive: column %q is %s, not numeric", name, in[ix].Kind)
		}
	}
	return in.WithColumn(dataset.Column{Name: d.dest, Kind: dataset.KindNumeric})
}

func (d *derive) Apply(ctx context.Context, chunk *dataset.Chunk, tc *Context) (*dataset.Chunk, error) {
	for i, row := range chunk.Rows {
		a, aok := row.V[d.srcIx].(float64)
		b, bok := d.operand, true
		if d.opCol != "" {
			b, bok = row.V[d.opIx].(float64)
		}
		if !aok || (d.binary && !bok) {
			switch d.policy {
			case nullPropagate:
				row.V = append(row.V, nil)
				continue
			case nullFail:
				col := d.source
				if aok {
					col = d.opCol
				}
				return nil, &dataset.TransformError{Op: "derive", Row: i, Column: col, Reason: "null input"}
			case nullFill:
				if !aok {
					a = d.fill
				}
				if d.binary && !bok {
					b = d.fill
				}
			}
		}
		y, reason := d.eval(a, b)
		if reason != "" {
			return nil, &dataset.TransformError{Op: "derive", Row: i, Column: d.dest, Reason: reason}
		}
		row.V = append(row.V, y)
	}
	return chunk, nil
}

// eval computes one value. The reason string is non-empty for computation
// faults, which fail the chunk regardless of null policy.
func (d *derive) eval(a, b float64) (float64, string) {
	var y float64
	switch d.op {
	case "add":
		y = a + b
	case "sub":
		y = a - b
	case "mul":
		y = a * b
	case "div":
		if b == 0 {
			return 0, "division by zero"
		}
		y = a / b
	case "pow":
		y = math.Pow(a, b)
	case "neg":
		y = -a
	case "abs":
		y = math.Abs(a)
	case "log":
		if a <= 0 {
			return 0, "log of a non-positive value"
		}
		y = math.Log(a)
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Sprintf("%s produced a non-finite result", d.op)
	}
	return y, ""
}
