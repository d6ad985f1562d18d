package session

import (
	"sync"

	"github.com/nova-gt/novaserver/pkg/transport"
)

// Table maps connection handles to sessions. It replaces per-peer user data
// pointers: transports hand over a ConnID and the dispatcher looks it up here.
type Table struct {
	mu       sync.RWMutex
	sessions map[transport.ConnID]*Session
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[transport.ConnID]*Session)}
}

// Add registers a session. The invalid handle is never stored.
func (t *Table) Add(s *Session) bool {
	if s == nil || s.ID == transport.NoConn {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.ID] = s
	return true
}

// Remove unregisters and returns the session attached to id.
func (t *Table) Remove(id transport.ConnID) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sessions[id]
	delete(t.sessions, id)
	return s
}

// Get returns the session attached to id, or nil.
func (t *Table) Get(id transport.ConnID) *Session {
	if id == transport.NoConn {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[id]
}

// All returns a snapshot of all attached sessions.
func (t *Table) All() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of attached sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// CountByPhase groups attached sessions by Phase.
func (t *Table) CountByPhase() map[State]int {
	counts := make(map[State]int)
	for _, s := range t.All() {
		counts[s.Phase()]++
	}
	return counts
}

// FindByName returns the authenticated session using the account name.
func (t *Table) FindByName(name string) *Session {
	for _, s := range t.All() {
		if s.IsAuthenticated() && s.Identity().Name == name {
			return s
		}
	}
	return nil
}
