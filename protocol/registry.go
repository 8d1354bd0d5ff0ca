package protocol

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// CursorRegistry holds the open cursors of one session. Safe for concurrent
// use by multiple in-flight requests; per-key atomicity comes from the
// underlying lock-free map, callers need no external locking.
type CursorRegistry struct {
	cursors *xsync.MapOf[uint64, *Cursor]
}

// NewCursorRegistry creates an empty registry.
func NewCursorRegistry() *CursorRegistry {
	return &CursorRegistry{
		cursors: xsync.NewMapOf[uint64, *Cursor](),
	}
}

// Insert registers a cursor under its id.
func (r *CursorRegistry) Insert(cur *Cursor) {
	r.cursors.Store(cur.ID(), cur)
}

// Get looks up a cursor by id.
func (r *CursorRegistry) Get(id uint64) (*Cursor, bool) {
	return r.cursors.Load(id)
}

// Remove unregisters and returns the cursor, if present.
func (r *CursorRegistry) Remove(id uint64) (*Cursor, bool) {
	return r.cursors.LoadAndDelete(id)
}

// RemoveAll unregisters every cursor and returns them (disconnect sweep).
func (r *CursorRegistry) RemoveAll() []*Cursor {
	var removed []*Cursor
	r.cursors.Range(func(id uint64, _ *Cursor) bool {
		if cur, ok := r.cursors.LoadAndDelete(id); ok {
			removed = append(removed, cur)
		}
		return true
	})
	return removed
}

// Count returns the number of currently open cursors.
func (r *CursorRegistry) Count() int {
	return r.cursors.Size()
}
