package id

import "sync/atomic"

// Generator produces unique cursor IDs for the whole node process.
// A single generator is shared by every client session so IDs stay unique
// even if connections are pooled. IDs are monotonically increasing and
// never reused; gaps are allowed (an ID burned by a failed execution is
// simply discarded).
type Generator struct {
	counter atomic.Uint64
}

// NewGenerator creates a new ID generator starting at zero.
func NewGenerator() *Generator {
	return &Generator{}
}

// NextID returns the next unique 64-bit ID.
func (g *Generator) NextID() uint64 {
	return g.counter.Add(1) - 1
}
