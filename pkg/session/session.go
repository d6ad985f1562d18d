// Package session holds server-side state for connected clients: logon
// progress and current world membership.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nova-gt/novaserver/pkg/proto"
	"github.com/nova-gt/novaserver/pkg/transport"
)

// State tracks the logon progress of a connection.
type State int

const (
	Connected         State = iota // Accepted, no logon yet
	GuestPending                   // requestedName received, awaiting validation
	RegisteredPending              // tankIDName received, awaiting validation
	TokenPending                   // ltoken received, awaiting decode+validation
	Authenticated                  // Logged on
	EnteredWorld                   // Authenticated and inside a world (reported by Phase only)
	Disconnected                   // Terminal
)

// String returns the metric label for the state.
func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case GuestPending:
		return "guest_pending"
	case RegisteredPending:
		return "registered_pending"
	case TokenPending:
		return "token_pending"
	case Authenticated:
		return "authenticated"
	case EnteredWorld:
		return "entered_world"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Flow is one of the three mutually exclusive logon protocols.
type Flow int

const (
	FlowGuest Flow = iota
	FlowRegistered
	FlowToken
)

// String returns a human-readable flow name.
func (f Flow) String() string {
	switch f {
	case FlowGuest:
		return "guest"
	case FlowRegistered:
		return "registered"
	case FlowToken:
		return "token"
	default:
		return "unknown"
	}
}

// Pending returns the state a session holds while the flow is validated.
func (f Flow) Pending() State {
	switch f {
	case FlowGuest:
		return GuestPending
	case FlowRegistered:
		return RegisteredPending
	default:
		return TokenPending
	}
}

var (
	ErrLogonInProgress      = errors.New("session: logon already in progress")
	ErrAlreadyAuthenticated = errors.New("session: already authenticated")
	ErrDisconnected         = errors.New("session: disconnected")
	ErrNotPending           = errors.New("session: flow is not pending")
)

// Identity is the account a session authenticated as.
type Identity struct {
	UserID uint64
	Name   string
	Guest  bool
}

// WorldRef is the membership handle the world registry stores on a session.
type WorldRef interface {
	WorldID() int
	WorldName() string
}

// Session is the server-side state of one connection. State and world are
// only changed through the methods below.
type Session struct {
	ID       transport.ConnID
	Addr     string
	Kind     transport.Kind
	ConnTime time.Time

	sender transport.Sender

	mu       sync.Mutex
	state    State
	identity Identity
	world    WorldRef
}

// New creates a session in the Connected state.
func New(id transport.ConnID, addr string, sender transport.Sender, kind transport.Kind) *Session {
	return &Session{
		ID:       id,
		Addr:     addr,
		Kind:     kind,
		ConnTime: time.Now(),
		sender:   sender,
		state:    Connected,
	}
}

// State returns the logon state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase is State with EnteredWorld reported for authenticated sessions that
// are inside a world.
func (s *Session) Phase() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Authenticated && s.world != nil {
		return EnteredWorld
	}
	return s.state
}

// IsAuthenticated reports whether a logon flow completed.
func (s *Session) IsAuthenticated() bool {
	return s.State() == Authenticated
}

// Identity returns the authenticated account, zero before logon.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// World returns the current world handle, nil when not in a world.
func (s *Session) World() WorldRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.world
}

// BeginLogon moves a Connected session into the flow's pending state.
// Any other state rejects the request; nothing is queued.
func (s *Session) BeginLogon(f Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Connected:
		s.state = f.Pending()
		return nil
	case GuestPending, RegisteredPending, TokenPending:
		return fmt.Errorf("%w (%s pending)", ErrLogonInProgress, s.state)
	case Authenticated:
		return ErrAlreadyAuthenticated
	default:
		return ErrDisconnected
	}
}

// CompleteLogon finishes a pending flow.
func (s *Session) CompleteLogon(f Flow, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != f.Pending() {
		return fmt.Errorf("%w: %s in state %s", ErrNotPending, f, s.state)
	}
	s.state = Authenticated
	s.identity = id
	return nil
}

// AbortLogon returns a pending session to Connected after failed validation.
func (s *Session) AbortLogon(f Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == f.Pending() {
		s.state = Connected
	}
}

// MarkDisconnected moves the session to the terminal state.
func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Disconnected
}

// UpdateWorld atomically replaces the session's world membership. fn runs
// with the session locked, receives the current world and state, and returns
// the new world (nil clears it). Callers take world locks inside fn, never
// the other way around.
func (s *Session) UpdateWorld(fn func(cur WorldRef, st State) WorldRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world = fn(s.world, s.state)
}

// Send queues raw envelope bytes for the client.
func (s *Session) Send(data []byte, reliable bool) error {
	if s.sender == nil {
		return ErrDisconnected
	}
	return s.sender.Send(s.ID, data, reliable)
}

// SendPacket sends a reliable envelope.
func (s *Session) SendPacket(data []byte) error {
	return s.Send(data, true)
}

// SendConsole shows a message in the client's console.
func (s *Session) SendConsole(text string) error {
	return s.SendPacket(proto.ConsoleMessage(text))
}

// DisconnectLater asks the transport to drop the connection after flushing.
func (s *Session) DisconnectLater(data uint32) error {
	if s.sender == nil {
		return ErrDisconnected
	}
	return s.sender.DisconnectLater(s.ID, data)
}
