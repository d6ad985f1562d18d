package server

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/account"
	"github.com/nova-gt/novaserver/pkg/events"
	"github.com/nova-gt/novaserver/pkg/proto"
	"github.com/nova-gt/novaserver/pkg/session"
)

func (srv *Server) guestLogon(ctx context.Context, s *session.Session, text string) error {
	requested := proto.ParseAction(text).Value("requestedName")
	return srv.logon(ctx, s, session.FlowGuest, func(ctx context.Context) (session.Identity, error) {
		return srv.accounts.ValidateGuest(ctx, requested)
	})
}

func (srv *Server) registeredLogon(ctx context.Context, s *session.Session, text string) error {
	ap := proto.ParseAction(text)
	name, pass := ap.Value("tankIDName"), ap.Value("tankIDPass")
	return srv.logon(ctx, s, session.FlowRegistered, func(ctx context.Context) (session.Identity, error) {
		return srv.accounts.ValidateRegistered(ctx, name, pass)
	})
}

func (srv *Server) tokenLogon(ctx context.Context, s *session.Session, text string) error {
	ltoken := proto.ParseAction(text).Value("ltoken")
	return srv.logon(ctx, s, session.FlowToken, func(ctx context.Context) (session.Identity, error) {
		return srv.accounts.ValidateToken(ctx, ltoken)
	})
}

// logon drives one flow: claim the pending state, validate, then either
// complete and greet or abort and disconnect. A session that is not in
// Connected is rejected without any reply.
func (srv *Server) logon(ctx context.Context, s *session.Session, flow session.Flow, validate func(context.Context) (session.Identity, error)) error {
	log := srv.log.With(zap.Uint64("conn", uint64(s.ID)), zap.Stringer("flow", flow))
	if err := s.BeginLogon(flow); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLogonRejected, flow, err)
	}
	if srv.accounts == nil {
		s.AbortLogon(flow)
		return fmt.Errorf("%w: no account store", ErrMissingCollaboratorData)
	}

	id, err := validate(ctx)
	if err != nil {
		s.AbortLogon(flow)
		s.SendConsole(logonFailureText(err))
		s.DisconnectLater(0)
		srv.bus.Emit(events.Event{Type: events.EvLogonFailed, Conn: s.ID, Addr: s.Addr, Flow: flow.String(), Text: err.Error()})
		return fmt.Errorf("%w: %s: %w", ErrLogonFailed, flow, err)
	}
	if err := s.CompleteLogon(flow, id); err != nil {
		// Disconnected while validating.
		if id.Guest {
			srv.accounts.ReleaseGuest(id.Name)
		}
		return fmt.Errorf("%w: %s: %w", ErrLogonRejected, flow, err)
	}

	srv.bus.Subscribe(s.ID, consoleSink{s})
	srv.bus.Emit(events.Event{Type: events.EvLogon, Conn: s.ID, Addr: s.Addr, Account: id.Name, Flow: flow.String()})
	log.Info("logged on", zap.String("account", id.Name), zap.Bool("guest", id.Guest))

	srv.sendLogonAccepted(ctx, s, id)
	return nil
}

// sendLogonAccepted greets an authenticated session and shows the world menu.
func (srv *Server) sendLogonAccepted(ctx context.Context, s *session.Session, id session.Identity) {
	if srv.game.Welcome != "" {
		s.SendConsole(srv.game.Welcome)
	}
	s.SendConsole(fmt.Sprintf("Logged on as `w%s``.", id.Name))

	var hash uint32
	if srv.items != nil {
		hash = srv.items.Info().Hash
	}
	s.SendPacket(proto.CallFunction(-1, 0,
		proto.Str("OnSuperMainStartAcceptLogon"),
		proto.Uint(hash),
		proto.Str(srv.game.CDNHost),
		proto.Str(srv.game.CDNPath),
		proto.Str(""),
		proto.Str("proto=84|choosen_language=en|active_holiday=0|"),
	))
	if srv.worlds != nil {
		if err := srv.worlds.SendWorldOffers(ctx, s, false); err != nil {
			srv.log.Warn("world offers", zap.Uint64("conn", uint64(s.ID)), zap.Error(err))
		}
	}
}

// logonFailureText is the console message shown before a failed logon
// disconnects.
func logonFailureText(err error) string {
	switch {
	case errors.Is(err, account.ErrInvalidCredentials):
		return "`4Unable to log on:`` that `wGrowID`` doesn't seem valid, or the password is wrong."
	case errors.Is(err, account.ErrBanned):
		return "`4Sorry, this account has been banned.``"
	case errors.Is(err, account.ErrGuestsDisabled):
		return "`4Guest logons are disabled.`` Create a `wGrowID`` to play."
	case errors.Is(err, account.ErrTooManyGuests):
		return "`4Too many guests online.`` Try again later."
	case errors.Is(err, account.ErrInvalidName):
		return "`4That name is not allowed.``"
	case errors.Is(err, account.ErrInvalidToken):
		return "`4Your login token expired.`` Please log in again."
	default:
		return "`4Unable to log on.`` Please try again later."
	}
}

// consoleSink delivers EvText events addressed to a session to its console.
type consoleSink struct {
	s *session.Session
}

func (c consoleSink) Receive(ev events.Event) {
	if ev.Type == events.EvText && ev.Text != "" {
		c.s.SendConsole(ev.Text)
	}
}

func (c consoleSink) Closed() bool { return c.s.State() == session.Disconnected }
