// Package proto implements the client wire formats: the 4-byte tagged
// envelope, pipe-delimited text actions, the fixed-size tank packet and the
// variant lists carried by CALL_FUNCTION packets.
package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// MsgType is the 4-byte little-endian tag at the start of every envelope.
type MsgType uint32

const (
	MsgUnknown           MsgType = iota // Never sent by clients
	MsgServerHello                      // Server -> client on connect
	MsgGenericText                      // Login and action text
	MsgGameMessage                      // Menu/action text
	MsgGamePacket                       // Binary tank packet
	MsgError                            // Client error report
	MsgTrack                            // Analytics
	MsgClientLogRequest                 // Log upload request
	MsgClientLogResponse                // Log upload response
)

// String returns a human-readable name for the message type.
func (t MsgType) String() string {
	switch t {
	case MsgUnknown:
		return "unknown"
	case MsgServerHello:
		return "server_hello"
	case MsgGenericText:
		return "generic_text"
	case MsgGameMessage:
		return "game_message"
	case MsgGamePacket:
		return "game_packet"
	case MsgError:
		return "error"
	case MsgTrack:
		return "track"
	case MsgClientLogRequest:
		return "client_log_request"
	case MsgClientLogResponse:
		return "client_log_response"
	default:
		return "unrecognized"
	}
}

// Envelope size limits.
const (
	HeaderSize      = 4
	MaxTextEnvelope = 1024
)

var ErrMalformedEnvelope = errors.New("proto: malformed envelope")

// Envelope is one inbound message as delivered by the transport. Raw is the
// transport-owned buffer and must be treated as read-only.
type Envelope struct {
	Type MsgType
	Raw  []byte
}

// ParseEnvelope reads the message-type tag from buf.
func ParseEnvelope(buf []byte) (Envelope, error) {
	if buf == nil || len(buf) < HeaderSize {
		return Envelope{}, ErrMalformedEnvelope
	}
	return Envelope{
		Type: MsgType(binary.LittleEndian.Uint32(buf)),
		Raw:  buf,
	}, nil
}

// Len returns the total envelope length including the tag.
func (e Envelope) Len() int { return len(e.Raw) }

// Payload returns the bytes following the tag.
func (e Envelope) Payload() []byte { return e.Raw[HeaderSize:] }

// Text returns the bounded string view of a text envelope. See TextView.
func (e Envelope) Text() string { return TextView(e.Raw) }

// TextView derives the string carried by a text envelope without touching
// the buffer. The final byte of the envelope is the client's terminator and
// is never part of the text; the view also stops at the first NUL.
func TextView(buf []byte) string {
	end := len(buf) - 1
	if end <= HeaderSize {
		return ""
	}
	text := buf[HeaderSize:end]
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return string(text)
}

// EncodeText builds a text envelope of the given type. A trailing NUL is
// appended so the receiver's terminator convention holds.
func EncodeText(t MsgType, text string) []byte {
	buf := make([]byte, HeaderSize+len(text)+1)
	binary.LittleEndian.PutUint32(buf, uint32(t))
	copy(buf[HeaderSize:], text)
	return buf
}

// EncodeHello builds the server hello sent right after a connection is accepted.
func EncodeHello() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf, uint32(MsgServerHello))
	return buf
}
