package dataset

import "sync"

// Row is a pooled container holding one positional record as it moves
// reader → transform → writer. Pooling keeps the steady-state allocation
// rate near zero on wide inputs.
//
// Contract:
//   - The owning stage writes into r.V[0:n] (no re-slice growth).
//   - Exactly one stage owns a row at a time; ownership passes with the
//     chunk that carries it.
//   - Once a row has been persisted or folded into an aggregate, the owner
//     must call r.Free() to return it to the pool.
//   - Do not retain r or r.V after Free.
//
// V stays []any so database sinks can hand rows to pgx CopyFromRows and
// database/sql Exec without copying.
type Row struct {
	V []any
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length n. All slots are nil.
func GetRow(n int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < n {
			r.V = make([]any, n)
		}
		r.V = r.V[:n]
		for i := range r.V {
			r.V[i] = nil
		}
		return r
	}
	return &Row{V: make([]any, n)}
}

// Free returns the Row to the pool. The caller must not use r afterwards.
func (r *Row) Free() {
	rowPool.Put(r)
}
