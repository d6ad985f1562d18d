// Package server is the protocol core: it accepts envelopes from the
// transports, routes text actions, drives logons and moves sessions between
// worlds.
package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/events"
	"github.com/nova-gt/novaserver/pkg/items"
	"github.com/nova-gt/novaserver/pkg/proto"
	"github.com/nova-gt/novaserver/pkg/session"
	"github.com/nova-gt/novaserver/pkg/transport"
	"github.com/nova-gt/novaserver/pkg/world"
)

// AccountStore validates the credentials of the three logon flows.
type AccountStore interface {
	ValidateGuest(ctx context.Context, requestedName string) (session.Identity, error)
	ValidateRegistered(ctx context.Context, name, password string) (session.Identity, error)
	ValidateToken(ctx context.Context, ltoken string) (session.Identity, error)
	ReleaseGuest(name string)
}

// ItemCatalog supplies the precomputed item database packet.
type ItemCatalog interface {
	UpdatePacket() ([]byte, bool)
	Info() items.Info
}

// Options wires a Server to its collaborators. Items, Bus and Metrics may
// be nil.
type Options struct {
	Game     GameConf
	Accounts AccountStore
	Items    ItemCatalog
	Worlds   *world.Registry
	Bus      *events.Bus
	Metrics  *Metrics
	Logger   *zap.Logger
}

// Server owns the connection table and implements transport.Handler.
type Server struct {
	game     GameConf
	log      *zap.Logger
	sessions *session.Table
	accounts AccountStore
	items    ItemCatalog
	worlds   *world.Registry
	bus      *events.Bus
	metrics  *Metrics

	handlers  dispatchTable
	rules     []rule
	startTime time.Time
}

// NewServer creates a server instance.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	if opts.Game.DefaultWorld == "" {
		opts.Game.DefaultWorld = DefaultConfig().Game.DefaultWorld
	}
	srv := &Server{
		game:      opts.Game,
		log:       log.Named("server"),
		sessions:  session.NewTable(),
		accounts:  opts.Accounts,
		items:     opts.Items,
		worlds:    opts.Worlds,
		bus:       bus,
		metrics:   opts.Metrics,
		startTime: time.Now(),
	}
	srv.handlers = srv.newDispatchTable()
	srv.rules = srv.textRules()
	if srv.metrics != nil {
		srv.metrics.attach(srv)
		bus.SubscribeGlobal(srv.metrics)
	}
	return srv
}

// Sessions returns the connection table.
func (srv *Server) Sessions() *session.Table { return srv.sessions }

// Worlds returns the world registry.
func (srv *Server) Worlds() *world.Registry { return srv.worlds }

// Uptime returns the time since the server was created.
func (srv *Server) Uptime() time.Duration { return time.Since(srv.startTime) }

// OnConnect implements transport.Handler: it attaches a fresh session and
// greets the client.
func (srv *Server) OnConnect(_ context.Context, id transport.ConnID, addr string, sender transport.Sender, kind transport.Kind) {
	s := session.New(id, addr, sender, kind)
	if !srv.sessions.Add(s) {
		srv.log.Warn("connection rejected", zap.Uint64("conn", uint64(id)), zap.String("addr", addr))
		return
	}
	srv.log.Info("connected", zap.Uint64("conn", uint64(id)), zap.String("addr", addr), zap.Stringer("transport", kind))
	if err := s.Send(proto.EncodeHello(), true); err != nil {
		srv.log.Debug("hello", zap.Uint64("conn", uint64(id)), zap.Error(err))
	}
	srv.bus.Emit(events.Event{
		Type: events.EvConnect,
		Conn: id,
		Addr: addr,
		Data: map[string]any{"transport": kind.String()},
	})
}

// OnReceive implements transport.Handler. Dispatch errors are logged and
// counted; the connection stays open.
func (srv *Server) OnReceive(ctx context.Context, id transport.ConnID, data []byte) {
	err := srv.HandleEnvelope(ctx, id, data)
	label, level := outcome(err)
	typ := "none"
	if env, perr := proto.ParseEnvelope(data); perr == nil {
		typ = env.Type.String()
	}
	if srv.metrics != nil {
		srv.metrics.observeEnvelope(typ, label)
	}
	if err != nil {
		srv.log.Log(level, "envelope dropped",
			zap.Uint64("conn", uint64(id)),
			zap.String("msg_type", typ),
			zap.Int("len", len(data)),
			zap.Error(err))
	}
}

// OnDisconnect implements transport.Handler. The session is marked
// disconnected first so no later Enter can resurrect its membership.
func (srv *Server) OnDisconnect(ctx context.Context, id transport.ConnID) {
	s := srv.sessions.Remove(id)
	if s == nil {
		return
	}
	s.MarkDisconnected()
	if srv.worlds != nil {
		srv.worlds.Exit(ctx, s, false)
	}
	ident := s.Identity()
	if ident.Guest && srv.accounts != nil {
		srv.accounts.ReleaseGuest(ident.Name)
	}
	srv.bus.Unsubscribe(id)
	srv.bus.Emit(events.Event{Type: events.EvDisconnect, Conn: id, Addr: s.Addr, Account: ident.Name})
	srv.log.Info("disconnected",
		zap.Uint64("conn", uint64(id)),
		zap.String("account", ident.Name),
		zap.Duration("online", time.Since(s.ConnTime)))
}

// Shutdown asks every connected client to disconnect.
func (srv *Server) Shutdown() {
	for _, s := range srv.sessions.All() {
		s.SendConsole("`4Server is shutting down.``")
		s.DisconnectLater(0)
	}
	srv.bus.Cleanup()
}
