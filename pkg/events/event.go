package events

import "github.com/nova-gt/novaserver/pkg/transport"

// EventType classifies lifecycle events.
type EventType int

const (
	EvText        EventType = iota // Console text for a connection
	EvConnect                      // Connection accepted
	EvDisconnect                   // Connection closed
	EvLogon                        // Logon flow completed
	EvLogonFailed                  // Logon flow rejected by the account store
	EvEnterWorld                   // Session joined a world
	EvExitWorld                    // Session left a world
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvText:
		return "text"
	case EvConnect:
		return "connect"
	case EvDisconnect:
		return "disconnect"
	case EvLogon:
		return "logon"
	case EvLogonFailed:
		return "logon_failed"
	case EvEnterWorld:
		return "enter_world"
	case EvExitWorld:
		return "exit_world"
	default:
		return "unknown"
	}
}

// Event is a session or world lifecycle event flowing through the bus.
type Event struct {
	Type    EventType
	Conn    transport.ConnID // Recipient or subject (NoConn for broadcast)
	Addr    string           // Remote address
	Account string           // Account name once known
	Flow    string           // Logon flow (EvLogon, EvLogonFailed)
	World   string           // World name (EvEnterWorld, EvExitWorld)
	Text    string           // Console text or failure reason
	Data    map[string]any   // Extra structured fields
}
