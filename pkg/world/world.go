// Package world owns the active worlds and keeps session membership
// consistent across Enter and Exit.
package world

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/nova-gt/novaserver/pkg/session"
	"github.com/nova-gt/novaserver/pkg/transport"
)

// MaxNameLen is the longest world name clients may request.
const MaxNameLen = 24

var (
	ErrInvalidName = errors.New("world: invalid name")
	ErrNotFound    = errors.New("world: not found")
	ErrNoLoader    = errors.New("world: no loader configured")
)

// Vec2 is a spawn position in pixels.
type Vec2 struct {
	X, Y float32
}

// Loader resolves worlds that are not active yet and produces the snapshot
// sent to clients on entry.
type Loader interface {
	Load(ctx context.Context, name string) (*World, error)
	Snapshot(ctx context.Context, w *World) ([]byte, error)
}

// Catalog lists joinable worlds beyond the active ones.
type Catalog interface {
	Names(ctx context.Context) ([]string, error)
}

// World is a named container of sessions. Membership is guarded by the
// world's own mutex.
type World struct {
	ID   int
	Name string
	// Spawn is used when Enter is called with the zero position.
	Spawn Vec2

	mu        sync.Mutex
	members   map[transport.ConnID]*session.Session
	netIDs    map[transport.ConnID]int32
	nextNetID int32
}

// New creates an empty world.
func New(id int, name string) *World {
	return &World{
		ID:      id,
		Name:    name,
		members: make(map[transport.ConnID]*session.Session),
		netIDs:  make(map[transport.ConnID]int32),
	}
}

// WorldID implements session.WorldRef.
func (w *World) WorldID() int { return w.ID }

// WorldName implements session.WorldRef.
func (w *World) WorldName() string { return w.Name }

func (w *World) add(s *session.Session) int32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id, ok := w.netIDs[s.ID]; ok {
		return id
	}
	w.members[s.ID] = s
	id := w.nextNetID
	w.nextNetID++
	w.netIDs[s.ID] = id
	return id
}

func (w *World) remove(id transport.ConnID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.members, id)
	delete(w.netIDs, id)
}

// Has reports whether the connection is a member.
func (w *World) Has(id transport.ConnID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.members[id]
	return ok
}

// NetID returns the in-world id assigned to a member.
func (w *World) NetID(id transport.ConnID) (int32, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.netIDs[id]
	return n, ok
}

// MemberCount returns the number of sessions inside.
func (w *World) MemberCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.members)
}

// MemberIDs returns the member connection handles in ascending order.
func (w *World) MemberIDs() []transport.ConnID {
	w.mu.Lock()
	ids := make([]transport.ConnID, 0, len(w.members))
	for id := range w.members {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NormalizeName upper-cases name and checks it against the allowed charset.
func NormalizeName(name string) (string, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" || len(name) > MaxNameLen {
		return "", ErrInvalidName
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", ErrInvalidName
		}
	}
	return name, nil
}
