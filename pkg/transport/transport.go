// Package transport adapts network libraries to the dispatcher. Adapters
// deliver one raw envelope at a time per connection and expose sends over
// reliable or unreliable channels plus a deferred disconnect.
package transport

import "context"

// ConnID identifies one accepted connection. Zero is never assigned.
type ConnID uint64

// NoConn is the invalid connection handle.
const NoConn ConnID = 0

// Kind identifies the network library behind an adapter.
type Kind int

const (
	KindENet      Kind = iota // UDP via ENet
	KindWebSocket             // Binary WebSocket frames
)

// String returns the metric label for the transport kind.
func (k Kind) String() string {
	switch k {
	case KindENet:
		return "enet"
	case KindWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// Sender is the outbound half of a transport.
type Sender interface {
	// Send queues data for the connection. Reliability and ordering of
	// reliable sends are owned by the transport.
	Send(id ConnID, data []byte, reliable bool) error
	// DisconnectLater asks the transport to close the connection once
	// queued outbound data has been flushed.
	DisconnectLater(id ConnID, data uint32) error
}

// Handler receives connection lifecycle callbacks from an adapter. Calls for
// one adapter are made sequentially from its delivery loop.
type Handler interface {
	OnConnect(ctx context.Context, id ConnID, addr string, sender Sender, kind Kind)
	OnReceive(ctx context.Context, id ConnID, data []byte)
	OnDisconnect(ctx context.Context, id ConnID)
}
