package chat

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Registry maps each authenticated user to exactly one live connection.
// It is the only multi-writer shared state in the core; every mutation
// happens under the lock, and the lock is never held across socket I/O.
// Entries are last-writer-wins: registering over an existing entry closes
// and evicts the old connection first.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]*Conn
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[int64]*Conn)}
}

// Register installs c as the user's single live connection. If another
// connection holds the slot, it receives a normal-closure signal and is
// removed before c is installed; the evicted handle is returned so the
// caller can finish its teardown. Concurrent registrations for the same
// user serialize to last-writer-wins.
func (r *Registry) Register(userID int64, c *Conn) (evicted *Conn) {
	for {
		r.mu.Lock()
		old := r.byUser[userID]
		if old == nil || old == c {
			r.byUser[userID] = c
			r.mu.Unlock()
			return evicted
		}
		r.mu.Unlock()

		// Signal the old connection while it still owns the slot, then
		// take it out. The socket write happens outside the lock so a
		// stuck peer cannot block unrelated users.
		old.beginClosing()
		old.sendCloseSignal(websocket.CloseNormalClosure, "session superseded")

		r.mu.Lock()
		if r.byUser[userID] == old {
			delete(r.byUser, userID)
		}
		r.mu.Unlock()
		evicted = old
	}
}

// Unregister removes the user entry only if it still points at c, so a
// connection's close path can never evict a successor that superseded it.
// Removing an absent entry is a no-op. It reports whether c owned the
// entry, which gates the one-time OFFLINE broadcast.
func (r *Registry) Unregister(c *Conn) (userID int64, removed bool) {
	uid := c.UserID()
	if uid == 0 {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byUser[uid] == c {
		delete(r.byUser, uid)
		return uid, true
	}
	return uid, false
}

// Lookup returns the user's live connection, if any.
func (r *Registry) Lookup(userID int64) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Snapshot copies the current entries so broadcasts can iterate and do
// I/O without holding the lock while connections close concurrently.
func (r *Registry) Snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		out = append(out, c)
	}
	return out
}
