package protocol

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/burrowdb/burrow/telemetry"
)

// SessionRegistry tracks the live client sessions of a node. The transport
// layer registers a handler when a connection completes its handshake and
// unregisters it after the disconnect sweep.
type SessionRegistry struct {
	sessions *xsync.MapOf[uint64, *SessionHandler]
}

// SessionStats is a point-in-time snapshot of one session, for the admin
// surface.
type SessionStats struct {
	SessionID   uint64 `json:"session_id"`
	OpenCursors int    `json:"open_cursors"`
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: xsync.NewMapOf[uint64, *SessionHandler](),
	}
}

// Register adds a session.
func (r *SessionRegistry) Register(h *SessionHandler) {
	r.sessions.Store(h.SessionID(), h)
	telemetry.SessionsTotal.Inc()
	telemetry.SessionsActive.Set(float64(r.sessions.Size()))
}

// Unregister removes a session.
func (r *SessionRegistry) Unregister(sessionID uint64) {
	r.sessions.Delete(sessionID)
	telemetry.SessionsActive.Set(float64(r.sessions.Size()))
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	return r.sessions.Size()
}

// Stats snapshots every live session.
func (r *SessionRegistry) Stats() []SessionStats {
	stats := make([]SessionStats, 0, r.sessions.Size())
	r.sessions.Range(func(_ uint64, h *SessionHandler) bool {
		stats = append(stats, SessionStats{
			SessionID:   h.SessionID(),
			OpenCursors: h.OpenCursors(),
		})
		return true
	})
	return stats
}

// Sweep force-closes every cursor of every session. Called during node
// shutdown after the busy gate has closed, so it bypasses the gate.
func (r *SessionRegistry) Sweep() {
	r.sessions.Range(func(_ uint64, h *SessionHandler) bool {
		h.sweepCursors()
		return true
	})
}
