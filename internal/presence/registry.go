// Package presence maps logged in users to their live connection.
package presence

import (
	"sync"

	"github.com/luciancaetano/frost"
)

// Registry is the process-wide user_id -> connection table. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]frost.Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[int64]frost.Conn)}
}

// Bind records c as the live connection of userID. The last login wins; the
// connection it replaced, if any, is returned.
func (r *Registry) Bind(userID int64, c frost.Conn) frost.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.byUser[userID]
	r.byUser[userID] = c
	if prev != nil && prev.ID() == c.ID() {
		return nil
	}
	return prev
}

// Unbind removes userID only if it is still bound to the connection connID.
func (r *Registry) Unbind(userID int64, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byUser[userID]
	if !ok || c.ID() != connID {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// Lookup returns the live connection of userID.
func (r *Registry) Lookup(userID int64) (frost.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byUser[userID]
	return c, ok
}

// Online reports whether userID has a live connection.
func (r *Registry) Online(userID int64) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Snapshot returns the live connections of the given users, skipping offline ones.
func (r *Registry) Snapshot(userIDs []int64) []frost.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]frost.Conn, 0, len(userIDs))
	for _, id := range userIDs {
		if c, ok := r.byUser[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
