package dataset

// Chunk is one bounded run of rows cut from a dataset. Chunks are ephemeral:
// a reader materializes at most one per cursor at a time, exactly one stage
// owns a chunk at any moment, and the owner may mutate rows in place.
//
// Index is the chunk's position in the run, dense from 0 after any predicate
// pushdown. Writers rely on receiving chunks in ascending Index order.
type Chunk struct {
	Index int
	Rows  []*Row
}

// Len returns the number of rows in the chunk.
func (c *Chunk) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Rows)
}

// Free returns every row to the pool and drops the slice. Call once the
// chunk's contents have been persisted or folded into an aggregate.
func (c *Chunk) Free() {
	if c == nil {
		return
	}
	for _, r := range c.Rows {
		r.Free()
	}
	c.Rows = nil
}
