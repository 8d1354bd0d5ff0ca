package protocol

import "sync"

// BusyGate admits request processing while the node is live and drains
// in-flight work on shutdown. Every request path must pair a successful
// Enter with exactly one Leave, on every exit path.
//
// Entering takes a read lease; Shutdown takes the write side, so it blocks
// until every admitted caller has left and refuses all later entries.
type BusyGate struct {
	mu      sync.RWMutex
	stopped bool
}

// NewBusyGate creates an open gate.
func NewBusyGate() *BusyGate {
	return &BusyGate{}
}

// Enter tries to admit a caller. It returns false once Shutdown has been
// signaled; on true the caller holds a lease and must call Leave.
func (g *BusyGate) Enter() bool {
	g.mu.RLock()
	if g.stopped {
		g.mu.RUnlock()
		return false
	}
	return true
}

// Leave returns the lease taken by a successful Enter.
func (g *BusyGate) Leave() {
	g.mu.RUnlock()
}

// Shutdown closes the gate. It blocks until all in-flight leases have been
// returned; afterwards every Enter fails. Safe to call more than once.
func (g *BusyGate) Shutdown() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()
}

// Stopped reports whether shutdown has been signaled.
func (g *BusyGate) Stopped() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stopped
}
