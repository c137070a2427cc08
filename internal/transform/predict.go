package transform

import (
	"context"
	"fmt"

	"tabpipe/internal/config"
	"tabpipe/internal/dataset"
)

func init() {
	Register("predict", newPredict)
}

// predict appends a numeric column scored by a named model from the run
// Context. Feature rows are gathered per chunk and scored in one Predict
// call; rows whose features are null under the propagate policy skip
// scoring and get a null prediction.
type predict struct {
	dest     string
	model    string
	features []string
	policy   nullPolicy
	fill     float64
	ixs      []int
}

func newPredict(opts config.Options, schema dataset.Schema) (Transform, error) {
	p := &predict{
		dest:     opts.String("dest", ""),
		model:    opts.String("model", ""),
		features: opts.StringSlice("features"),
	}
	if p.dest == "" || p.model == "" {
		return nil, fmt.Errorf("transform: predict requires dest and model options")
	}
	if len(p.features) == 0 {
		return nil, fmt.Errorf("transform: predict requires a features option")
	}
	var fillRaw any
	var err error
	if p.policy, fillRaw, err = parsePolicy(opts); err != nil {
		return nil, err
	}
	if p.policy == nullFill {
		f, ok := fillRaw.(float64)
		if !ok {
			return nil, fmt.Errorf("transform: predict fill_value must be a number, got %T", fillRaw)
		}
		p.fill = f
	}
	if _, err := p.OutSchema(schema); err != nil {
		return nil, err
	}
	for _, name := range p.features {
		ix, _ := schema.Index(name)
		p.ixs = append(p.ixs, ix)
	}
	return p, nil
}

func (p *predict) Name() string { return "predict" }

func (p *predict) OutSchema(in dataset.Schema) (dataset.Schema, error) {
	for _, name := range p.features {
		ix, ok := in.Index(name)
		if !ok {
			return nil, fmt.Errorf("transform: predict: unknown column %q", name)
		}
		if in[ix].Kind != dataset.KindNumeric {
			return nil, fmt.Errorf("transform: predict: feature %q is %s, not numeric", name, in[ix].Kind)
		}
	}
	return in.WithColumn(dataset.Column{Name: p.dest, Kind: dataset.KindNumeric})
}

func (p *predict) Apply(ctx context.Context, chunk *dataset.Chunk, tc *Context) (*dataset.Chunk, error) {
	m, ok := tc.Model(p.model)
	if !ok {
		return nil, fmt.Errorf("%w: predict: model %q is not bound in the run context", dataset.ErrTransformFailure, p.model)
	}

	matrix := make([][]float64, 0, chunk.Len())
	scored := make([]int, 0, chunk.Len())
	for i, row := range chunk.Rows {
		vec := make([]float64, len(p.ixs))
		skip := false
		for j, ix := range p.ixs {
			f, ok := row.V[ix].(float64)
			if !ok {
				switch p.policy {
				case nullPropagate:
					skip = true
				case nullFail:
					return nil, &dataset.TransformError{Op: "predict", Row: i, Column: p.features[j], Reason: "null feature"}
				case nullFill:
					f = p.fill
				}
			}
			if skip {
				break
			}
			vec[j] = f
		}
		if skip {
			row.V = append(row.V, nil)
			continue
		}
		matrix = append(matrix, vec)
		scored = append(scored, i)
		row.V = append(row.V, nil)
	}
	if len(matrix) == 0 {
		return chunk, nil
	}

	preds, err := m.Predict(ctx, matrix)
	if err != nil {
		return nil, fmt.Errorf("%w: predict: model %q: %v", dataset.ErrTransformFailure, p.model, err)
	}
	if len(preds) != len(matrix) {
		return nil, fmt.Errorf("%w: predict: model %q returned %d predictions for %d rows", dataset.ErrTransformFailure, p.model, len(preds), len(matrix))
	}
	dst := len(chunk.Rows[0].V) - 1
	for k, i := range scored {
		chunk.Rows[i].V[dst] = preds[k]
	}
	return chunk, nil
}
