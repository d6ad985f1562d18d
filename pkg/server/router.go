package server

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/proto"
	"github.com/nova-gt/novaserver/pkg/session"
	"github.com/nova-gt/novaserver/pkg/world"
)

// rule is one entry of the text action list.
type rule struct {
	name   string
	match  func(text string) bool
	handle func(ctx context.Context, s *session.Session, text string) error
}

func prefix(p string) func(string) bool {
	return func(text string) bool { return strings.HasPrefix(text, p) }
}

func exact(p string) func(string) bool {
	return func(text string) bool { return text == p }
}

// textRules returns the ordered rule list shared by GENERIC_TEXT and
// GAME_MESSAGE. Some prefixes contain others, so order is significant and
// the first match wins.
func (srv *Server) textRules() []rule {
	return []rule{
		{"guest_logon", prefix("requestedName"), srv.guestLogon},
		{"registered_logon", prefix("tankIDName"), srv.registeredLogon},
		{"token_logon", func(text string) bool {
			return strings.HasPrefix(text, "protocol|") && strings.Contains(text, "ltoken|")
		}, srv.tokenLogon},
		{"refresh_item_data", prefix("action|refresh_item_data"), srv.refreshItemData},
		{"enter_game", prefix("action|enter_game"), srv.enterGame},
		{"quit", exact("action|quit"), srv.quit},
		{"world_button", prefix("action|world_button"), srv.worldButton},
		{"join_request", prefix("action|join_request"), srv.joinRequest},
		{"quit_to_exit", prefix("action|quit_to_exit"), srv.quitToExit},
	}
}

// matchRule returns the first rule matching text.
func (srv *Server) matchRule(text string) (rule, bool) {
	for _, r := range srv.rules {
		if r.match(text) {
			return r, true
		}
	}
	return rule{}, false
}

// route runs the first matching rule. Unmatched text is ignored.
func (srv *Server) route(ctx context.Context, s *session.Session, text string) error {
	r, ok := srv.matchRule(text)
	if !ok {
		return nil
	}
	srv.log.Debug("action", zap.Uint64("conn", uint64(s.ID)), zap.String("rule", r.name))
	return r.handle(ctx, s, text)
}

func requireAuth(s *session.Session, what string) error {
	if !s.IsAuthenticated() {
		return fmt.Errorf("%w: %s in state %s", ErrUnauthenticated, what, s.State())
	}
	return nil
}

func (srv *Server) refreshItemData(_ context.Context, s *session.Session, _ string) error {
	if err := requireAuth(s, "refresh_item_data"); err != nil {
		return err
	}
	var (
		blob []byte
		ok   bool
	)
	if srv.items != nil {
		blob, ok = srv.items.UpdatePacket()
	}
	if !ok {
		s.SendConsole("Something went wrong trying to update the items data.")
		srv.log.Error("item update packet unavailable", zap.Uint64("conn", uint64(s.ID)))
		return fmt.Errorf("%w: item database", ErrMissingCollaboratorData)
	}
	return s.SendPacket(blob)
}

func (srv *Server) enterGame(ctx context.Context, s *session.Session, _ string) error {
	if err := requireAuth(s, "enter_game"); err != nil {
		return err
	}
	return srv.enter(ctx, s, srv.game.DefaultWorld)
}

func (srv *Server) joinRequest(ctx context.Context, s *session.Session, text string) error {
	if err := requireAuth(s, "join_request"); err != nil {
		return err
	}
	name := strings.TrimSpace(proto.ParseAction(text).Value("name"))
	if err := srv.enter(ctx, s, name); err != nil {
		s.SendConsole(fmt.Sprintf("Unable to enter world `w%s``.", name))
		s.SendPacket(proto.CallFunction(-1, 0, proto.Str("OnFailedToEnterWorld"), proto.Int(1)))
		return err
	}
	return nil
}

func (srv *Server) enter(ctx context.Context, s *session.Session, name string) error {
	if srv.worlds == nil || !srv.worlds.Enter(ctx, s, name, world.Vec2{}) {
		return fmt.Errorf("%w: %q", ErrInvalidWorldEnter, name)
	}
	return nil
}

func (srv *Server) quitToExit(ctx context.Context, s *session.Session, _ string) error {
	if err := requireAuth(s, "quit_to_exit"); err != nil {
		return err
	}
	if srv.worlds != nil {
		srv.worlds.Exit(ctx, s, true)
	}
	return nil
}

func (srv *Server) quit(_ context.Context, s *session.Session, _ string) error {
	return s.DisconnectLater(0)
}

// worldButton selects a world menu category. Categories are not
// implemented; the menu always shows every world.
func (srv *Server) worldButton(context.Context, *session.Session, string) error {
	return nil
}
