package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/proto"
	"github.com/nova-gt/novaserver/pkg/session"
	"github.com/nova-gt/novaserver/pkg/transport"
)

// numMsgTypes is the number of message types with a table entry.
const numMsgTypes = proto.MsgClientLogResponse + 1

type envelopeHandler func(ctx context.Context, conn transport.ConnID, env proto.Envelope) error

// dispatchTable holds one handler per known message type. Tags at or past
// numMsgTypes are unknown and ignored.
type dispatchTable [numMsgTypes]envelopeHandler

func (srv *Server) newDispatchTable() dispatchTable {
	return dispatchTable{
		proto.MsgUnknown:           srv.ignore,
		proto.MsgServerHello:       srv.ignore,
		proto.MsgGenericText:       srv.handleText,
		proto.MsgGameMessage:       srv.handleText,
		proto.MsgGamePacket:        srv.handleGamePacket,
		proto.MsgError:             srv.handleReport,
		proto.MsgTrack:             srv.handleReport,
		proto.MsgClientLogRequest:  srv.ignore,
		proto.MsgClientLogResponse: srv.ignore,
	}
}

// HandleEnvelope classifies one inbound envelope, checks its bounds and
// routes it. buf is owned by the transport and never modified. A non-nil
// error means the envelope was dropped; state is unchanged unless a
// handler ran.
func (srv *Server) HandleEnvelope(ctx context.Context, conn transport.ConnID, buf []byte) error {
	if conn == transport.NoConn || buf == nil {
		return fmt.Errorf("%w: no connection or buffer", ErrMalformedEnvelope)
	}
	env, err := proto.ParseEnvelope(buf)
	if err != nil {
		return fmt.Errorf("%w: %d bytes", ErrMalformedEnvelope, len(buf))
	}
	if env.Type >= numMsgTypes {
		return nil
	}
	return srv.handlers[env.Type](ctx, conn, env)
}

func (srv *Server) ignore(context.Context, transport.ConnID, proto.Envelope) error { return nil }

// session returns the session attached to conn.
func (srv *Server) session(conn transport.ConnID, t proto.MsgType) (*session.Session, error) {
	s := srv.sessions.Get(conn)
	if s == nil {
		return nil, fmt.Errorf("%w: %s on conn %d", ErrNoSession, t, conn)
	}
	return s, nil
}

func (srv *Server) handleText(ctx context.Context, conn transport.ConnID, env proto.Envelope) error {
	s, err := srv.session(conn, env.Type)
	if err != nil {
		return err
	}
	if env.Len() > proto.MaxTextEnvelope {
		return fmt.Errorf("%w: %s of %d bytes", ErrOversizedPayload, env.Type, env.Len())
	}
	return srv.route(ctx, s, env.Text())
}

func (srv *Server) handleGamePacket(ctx context.Context, conn transport.ConnID, env proto.Envelope) error {
	s, err := srv.session(conn, env.Type)
	if err != nil {
		return err
	}
	switch n := env.Len(); {
	case n < proto.GamePacketMinSize:
		return fmt.Errorf("%w: game packet of %d bytes", ErrMalformedEnvelope, n)
	case n > proto.GamePacketMaxSize:
		return fmt.Errorf("%w: game packet of %d bytes", ErrOversizedPayload, n)
	}
	tp, err := proto.DecodeTankPacket(env.Payload())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return srv.handleTank(ctx, s, &tp)
}

// handleTank dispatches a decoded tank packet by sub-type.
func (srv *Server) handleTank(_ context.Context, _ *session.Session, tp *proto.TankPacket) error {
	switch tp.Type {
	case proto.PacketState:
		// Movement is not simulated yet.
		return nil
	default:
		return nil
	}
}

// handleReport logs client error and tracking reports.
func (srv *Server) handleReport(_ context.Context, conn transport.ConnID, env proto.Envelope) error {
	if env.Len() > proto.MaxTextEnvelope {
		return fmt.Errorf("%w: %s of %d bytes", ErrOversizedPayload, env.Type, env.Len())
	}
	srv.log.Debug("client report",
		zap.Uint64("conn", uint64(conn)),
		zap.Stringer("msg_type", env.Type),
		zap.String("text", env.Text()))
	return nil
}
