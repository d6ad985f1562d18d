package events

import (
	"sync"

	"github.com/nova-gt/novaserver/pkg/transport"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a per-connection pub/sub event bus with support for global
// subscribers. Sessions subscribe for console text addressed to them; the
// audit log and metrics subscribe globally.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[transport.ConnID][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[transport.ConnID][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific connection's events.
func (b *Bus) Subscribe(conn transport.ConnID, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[conn] = append(b.subscribers[conn], sub)
}

// Unsubscribe removes every subscriber of a connection.
func (b *Bus) Unsubscribe(conn transport.ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, conn)
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit sends an event to the connection in ev.Conn and all global subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Conn]
	globals := b.global
	b.mu.RUnlock()

	deliver(subs, ev)
	deliver(globals, ev)
}

// EmitToConns sends a copy of ev to each listed connection, skipping except.
// Global subscribers see the event once with Conn left as given.
func (b *Bus) EmitToConns(conns []transport.ConnID, except transport.ConnID, ev Event) {
	b.mu.RLock()
	globals := b.global
	b.mu.RUnlock()

	for _, c := range conns {
		if c == except {
			continue
		}
		b.mu.RLock()
		subs := b.subscribers[c]
		b.mu.RUnlock()

		connEv := ev
		connEv.Conn = c
		deliver(subs, connEv)
	}
	deliver(globals, ev)
}

func deliver(subs []Subscriber, ev Event) {
	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// Subscribers returns the number of subscribers for a connection.
func (b *Bus) Subscribers(conn transport.ConnID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[conn])
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for conn, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, conn)
		} else {
			b.subscribers[conn] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	b.global = activeGlobal
}
