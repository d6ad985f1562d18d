package server

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/account"
	"github.com/nova-gt/novaserver/pkg/events"
	"github.com/nova-gt/novaserver/pkg/items"
	"github.com/nova-gt/novaserver/pkg/proto"
	"github.com/nova-gt/novaserver/pkg/session"
	"github.com/nova-gt/novaserver/pkg/transport"
	"github.com/nova-gt/novaserver/pkg/world"
)

// recorder is a transport.Sender that keeps everything sent to one
// connection.
type recorder struct {
	mu          sync.Mutex
	sent        [][]byte
	disconnects []uint32
}

func (r *recorder) Send(_ transport.ConnID, data []byte, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, data)
	return nil
}

func (r *recorder) DisconnectLater(_ transport.ConnID, reason uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, reason)
	return nil
}

func (r *recorder) counts() (sent, disconnects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent), len(r.disconnects)
}

// callArgs decodes the string arguments of every CALL_FUNCTION packet.
func (r *recorder) callArgs() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]string
	for _, b := range r.sent {
		if len(b) < proto.GamePacketMinSize || proto.MsgType(binary.LittleEndian.Uint32(b)) != proto.MsgGamePacket {
			continue
		}
		if proto.PacketType(b[proto.HeaderSize]) != proto.PacketCallFunction {
			continue
		}
		ext := b[proto.GamePacketMinSize:]
		count := int(ext[0])
		off := 1
		var args []string
		for range count {
			kind := proto.VariantKind(ext[off+1])
			off += 2
			switch kind {
			case proto.VariantString:
				n := int(binary.LittleEndian.Uint32(ext[off:]))
				args = append(args, string(ext[off+4:off+4+n]))
				off += 4 + n
			case proto.VariantVec2:
				off += 8
			case proto.VariantVec3:
				off += 12
			default:
				off += 4
			}
		}
		out = append(out, args)
	}
	return out
}

func (r *recorder) calls() []string {
	var names []string
	for _, args := range r.callArgs() {
		names = append(names, args[0])
	}
	return names
}

func (r *recorder) console() []string {
	var texts []string
	for _, args := range r.callArgs() {
		if args[0] == "OnConsoleMessage" {
			texts = append(texts, args[1])
		}
	}
	return texts
}

type fakeAccounts struct {
	mu       sync.Mutex
	err      error
	calls    map[session.Flow]int
	released []string

	// When block is set ValidateGuest signals entered and waits on block.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeAccounts) record(flow session.Flow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[session.Flow]int)
	}
	f.calls[flow]++
	return f.err
}

func (f *fakeAccounts) count(flow session.Flow) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[flow]
}

func (f *fakeAccounts) ValidateGuest(_ context.Context, requested string) (session.Identity, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	if err := f.record(session.FlowGuest); err != nil {
		return session.Identity{}, err
	}
	return session.Identity{Name: requested, Guest: true}, nil
}

func (f *fakeAccounts) ValidateRegistered(_ context.Context, name, _ string) (session.Identity, error) {
	if err := f.record(session.FlowRegistered); err != nil {
		return session.Identity{}, err
	}
	return session.Identity{UserID: 7, Name: name}, nil
}

func (f *fakeAccounts) ValidateToken(_ context.Context, ltoken string) (session.Identity, error) {
	if err := f.record(session.FlowToken); err != nil {
		return session.Identity{}, err
	}
	return session.Identity{UserID: 8, Name: "tok_" + ltoken}, nil
}

func (f *fakeAccounts) ReleaseGuest(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, name)
}

type fakeItems struct {
	packet []byte
	info   items.Info
}

func (f *fakeItems) UpdatePacket() ([]byte, bool) { return f.packet, f.packet != nil }
func (f *fakeItems) Info() items.Info             { return f.info }

type fakeLoader struct {
	mu     sync.Mutex
	nextID int
}

func (f *fakeLoader) Load(_ context.Context, name string) (*world.World, error) {
	if name == "BROKEN" {
		return nil, errors.New("corrupt world")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return world.New(f.nextID, name), nil
}

func (f *fakeLoader) Snapshot(_ context.Context, w *world.World) ([]byte, error) {
	return []byte(w.Name), nil
}

// testEnv holds the shared test infrastructure.
type testEnv struct {
	srv      *Server
	accounts *fakeAccounts
	items    *fakeItems
	worlds   *world.Registry
	bus      *events.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bus := events.NewBus()
	e := &testEnv{
		accounts: &fakeAccounts{},
		items:    &fakeItems{},
		bus:      bus,
		worlds:   world.NewRegistry(&fakeLoader{}, nil, bus, zap.NewNop()),
	}
	e.srv = NewServer(Options{
		Game:     DefaultConfig().Game,
		Accounts: e.accounts,
		Items:    e.items,
		Worlds:   e.worlds,
		Bus:      bus,
		Logger:   zap.NewNop(),
	})
	return e
}

func (e *testEnv) connect(t *testing.T, id transport.ConnID) (*session.Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	e.srv.OnConnect(context.Background(), id, "127.0.0.1:1234", rec, transport.KindENet)
	s := e.srv.Sessions().Get(id)
	require.NotNil(t, s)
	return s, rec
}

func (e *testEnv) send(id transport.ConnID, t proto.MsgType, text string) error {
	return e.srv.HandleEnvelope(context.Background(), id, proto.EncodeText(t, text))
}

// login connects id and completes a guest logon as name.
func (e *testEnv) login(t *testing.T, id transport.ConnID, name string) (*session.Session, *recorder) {
	t.Helper()
	s, rec := e.connect(t, id)
	require.NoError(t, e.send(id, proto.MsgGenericText, "requestedName|"+name+"\nprotocol|84\n"))
	require.True(t, s.IsAuthenticated())
	return s, rec
}

func TestOnConnectSendsHello(t *testing.T) {
	e := newTestEnv(t)
	s, rec := e.connect(t, 1)
	assert.Equal(t, session.Connected, s.State())
	require.Len(t, rec.sent, 1)
	assert.Equal(t, proto.EncodeHello(), rec.sent[0])
}

func TestHandleEnvelopeMalformed(t *testing.T) {
	e := newTestEnv(t)
	s, rec := e.connect(t, 1)
	ctx := context.Background()

	tests := []struct {
		name string
		conn transport.ConnID
		buf  []byte
	}{
		{"nil buffer", 1, nil},
		{"empty", 1, []byte{}},
		{"three bytes", 1, []byte{2, 0, 0}},
		{"invalid handle", transport.NoConn, proto.EncodeText(proto.MsgGameMessage, "action|quit")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.srv.HandleEnvelope(ctx, tt.conn, tt.buf)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}

	sent, disc := rec.counts()
	assert.Equal(t, 1, sent, "only the hello")
	assert.Zero(t, disc)
	assert.Equal(t, session.Connected, s.State())
	assert.Zero(t, e.worlds.Count())
}

func TestTextRequiresSession(t *testing.T) {
	e := newTestEnv(t)
	err := e.send(42, proto.MsgGenericText, "requestedName|ghost\n")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Zero(t, e.accounts.count(session.FlowGuest))
}

func TestOversizedTextDropped(t *testing.T) {
	for _, typ := range []proto.MsgType{proto.MsgGenericText, proto.MsgGameMessage} {
		t.Run(typ.String(), func(t *testing.T) {
			e := newTestEnv(t)
			s, rec := e.login(t, 1, "alice")
			require.NoError(t, e.send(1, proto.MsgGenericText, "action|enter_game\n"))
			sent, _ := rec.counts()

			text := "action|quit_to_exit\n"
			padded := text + string(make([]byte, proto.MaxTextEnvelope-proto.HeaderSize-1-len(text)+1))
			buf := proto.EncodeText(typ, padded)
			require.Len(t, buf, proto.MaxTextEnvelope+1)

			err := e.srv.HandleEnvelope(context.Background(), 1, buf)
			assert.ErrorIs(t, err, ErrOversizedPayload)
			assert.NotNil(t, s.World(), "handler never ran")
			after, _ := rec.counts()
			assert.Equal(t, sent, after)
		})
	}
}

func TestTextAtLimitAccepted(t *testing.T) {
	e := newTestEnv(t)
	s, _ := e.login(t, 1, "alice")
	require.NoError(t, e.send(1, proto.MsgGenericText, "action|enter_game\n"))

	text := "action|quit_to_exit\n"
	padding := make([]byte, proto.MaxTextEnvelope-proto.HeaderSize-1-len(text))
	for i := range padding {
		padding[i] = 'x'
	}
	buf := proto.EncodeText(proto.MsgGameMessage, text+string(padding))
	require.Len(t, buf, proto.MaxTextEnvelope)

	require.NoError(t, e.srv.HandleEnvelope(context.Background(), 1, buf))
	assert.Nil(t, s.World())
}

func TestGamePacketLength(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, 1, "alice")
	base := proto.EncodeGamePacket(&proto.TankPacket{Type: proto.PacketState, PosX: 32, PosY: 64})
	require.Len(t, base, proto.GamePacketMinSize)

	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"60 bytes", base, nil},
		{"61 bytes", append(append([]byte{}, base...), 0), nil},
		{"59 bytes", base[:59], ErrMalformedEnvelope},
		{"header only", base[:proto.HeaderSize], ErrMalformedEnvelope},
		{"62 bytes", append(append([]byte{}, base...), 0, 0), ErrOversizedPayload},
		{"extended", proto.ConsoleMessage("hi"), ErrOversizedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.srv.HandleEnvelope(context.Background(), 1, tt.buf)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}

	unknownSub := proto.EncodeGamePacket(&proto.TankPacket{Type: proto.PacketTileChangeRequest})
	assert.NoError(t, e.srv.HandleEnvelope(context.Background(), 1, unknownSub))
	assert.ErrorIs(t, e.srv.HandleEnvelope(context.Background(), 99, base), ErrNoSession)
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	e := newTestEnv(t)
	s, rec := e.connect(t, 1)
	buf := proto.EncodeText(proto.MsgType(99), "requestedName|alice\n")
	assert.NoError(t, e.srv.HandleEnvelope(context.Background(), 1, buf))
	assert.NoError(t, e.send(1, proto.MsgTrack, "eventName|100_MOBILE.START\n"))
	assert.NoError(t, e.send(1, proto.MsgError, "client crashed\n"))
	assert.Equal(t, session.Connected, s.State())
	sent, _ := rec.counts()
	assert.Equal(t, 1, sent)
}

func TestDispatchTableExhaustive(t *testing.T) {
	e := newTestEnv(t)
	for typ := proto.MsgType(0); typ < numMsgTypes; typ++ {
		assert.NotNil(t, e.srv.handlers[typ], typ.String())
	}
}

func TestInboundBufferUntouched(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t, 1)
	buf := proto.EncodeText(proto.MsgGenericText, "requestedName|alice\n")
	buf[len(buf)-1] = '!'
	orig := append([]byte(nil), buf...)

	require.NoError(t, e.srv.HandleEnvelope(context.Background(), 1, buf))
	assert.Equal(t, orig, buf)
}

func TestRouterPriority(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		text string
		rule string
	}{
		{"requestedName|test|", "guest_logon"},
		{"requestedName|test\ntankIDName|x\nprotocol|1\nltoken|y\n", "guest_logon"},
		{"tankIDName|bob\ntankIDPass|pw\nprotocol|1\nltoken|y\n", "registered_logon"},
		{"protocol|84\nltoken|abc\n", "token_logon"},
		{"action|refresh_item_data\n", "refresh_item_data"},
		{"action|enter_game\n", "enter_game"},
		{"action|quit", "quit"},
		{"action|world_button\nname|_catselect_\n", "world_button"},
		{"action|join_request\nname|START\n", "join_request"},
		{"action|quit_to_exit\n", "quit_to_exit"},
	}
	for _, tt := range tests {
		r, ok := e.srv.matchRule(tt.text)
		require.True(t, ok, tt.text)
		assert.Equal(t, tt.rule, r.name, tt.text)
	}

	for _, text := range []string{"", "protocol|84\n", "action|quit\n", "action|dialog_return\n", "xrequestedName|a"} {
		_, ok := e.srv.matchRule(text)
		assert.False(t, ok, "%q", text)
	}
}

func TestGuestPayloadSelectsGuestFlowOnly(t *testing.T) {
	e := newTestEnv(t)
	s, _ := e.connect(t, 1)
	require.NoError(t, e.send(1, proto.MsgGenericText, "requestedName|test|"))
	assert.Equal(t, 1, e.accounts.count(session.FlowGuest))
	assert.Zero(t, e.accounts.count(session.FlowRegistered))
	assert.Zero(t, e.accounts.count(session.FlowToken))
	assert.True(t, s.Identity().Guest)
}

func TestLogonFlows(t *testing.T) {
	tests := []struct {
		name string
		text string
		flow session.Flow
		want string
	}{
		{"guest", "requestedName|alice\nprotocol|84\n", session.FlowGuest, "alice"},
		{"registered", "tankIDName|bob\ntankIDPass|secret\nrequestedName|x\n", session.FlowRegistered, "bob"},
		{"token", "protocol|84\nltoken|abc\n", session.FlowToken, "tok_abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			e.items.info = items.Info{Hash: 0xdeadbeef}
			s, rec := e.connect(t, 1)
			require.NoError(t, e.send(1, proto.MsgGenericText, tt.text))

			assert.Equal(t, session.Authenticated, s.State())
			assert.Equal(t, tt.want, s.Identity().Name)
			assert.Equal(t, 1, e.accounts.count(tt.flow))
			assert.Equal(t, 1, e.bus.Subscribers(1))

			calls := rec.calls()
			assert.Contains(t, calls, "OnSuperMainStartAcceptLogon")
			assert.Equal(t, "OnRequestWorldSelectMenu", calls[len(calls)-1])
			assert.Contains(t, rec.console(), "Logged on as `w"+tt.want+"``.")
			_, disc := rec.counts()
			assert.Zero(t, disc)
		})
	}
}

func TestLogonFailureDisconnects(t *testing.T) {
	e := newTestEnv(t)
	e.accounts.err = account.ErrInvalidCredentials
	s, rec := e.connect(t, 1)

	err := e.send(1, proto.MsgGenericText, "tankIDName|bob\ntankIDPass|wrong\n")
	assert.ErrorIs(t, err, ErrLogonFailed)
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)
	assert.Equal(t, session.Connected, s.State())
	assert.Equal(t, []uint32{0}, rec.disconnects)
	require.Len(t, rec.console(), 1)
	assert.Contains(t, rec.console()[0], "Unable to log on")
	assert.Zero(t, e.bus.Subscribers(1))
}

func TestSecondLogonAfterAuthenticatedRejected(t *testing.T) {
	e := newTestEnv(t)
	s, rec := e.login(t, 1, "alice")
	sent, _ := rec.counts()

	err := e.send(1, proto.MsgGenericText, "tankIDName|bob\ntankIDPass|pw\n")
	assert.ErrorIs(t, err, ErrLogonRejected)
	assert.ErrorIs(t, err, session.ErrAlreadyAuthenticated)
	assert.Equal(t, "alice", s.Identity().Name)
	assert.Zero(t, e.accounts.count(session.FlowRegistered))
	after, disc := rec.counts()
	assert.Equal(t, sent, after)
	assert.Zero(t, disc)
}

func TestConcurrentLogonSecondRejected(t *testing.T) {
	e := newTestEnv(t)
	e.accounts.block = make(chan struct{})
	e.accounts.entered = make(chan struct{})
	s, _ := e.connect(t, 1)

	first := make(chan error, 1)
	go func() {
		first <- e.send(1, proto.MsgGenericText, "requestedName|alice\n")
	}()
	<-e.accounts.entered
	assert.Equal(t, session.GuestPending, s.State())

	err := e.send(1, proto.MsgGenericText, "tankIDName|bob\ntankIDPass|pw\n")
	assert.ErrorIs(t, err, ErrLogonRejected)
	assert.ErrorIs(t, err, session.ErrLogonInProgress)
	assert.Equal(t, session.GuestPending, s.State())

	close(e.accounts.block)
	require.NoError(t, <-first)
	assert.Equal(t, session.Authenticated, s.State())
	assert.Equal(t, session.Identity{Name: "alice", Guest: true}, s.Identity())
	assert.Zero(t, e.accounts.count(session.FlowRegistered))
}

func TestEnterGameRequiresAuthentication(t *testing.T) {
	e := newTestEnv(t)
	s, rec := e.connect(t, 1)

	err := e.send(1, proto.MsgGenericText, "action|enter_game\n")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Nil(t, s.World())
	assert.Zero(t, e.worlds.Count())
	sent, disc := rec.counts()
	assert.Equal(t, 1, sent)
	assert.Zero(t, disc, "connection stays open")

	assert.ErrorIs(t, e.send(1, proto.MsgGameMessage, "action|join_request\nname|START\n"), ErrUnauthenticated)
	assert.Zero(t, e.worlds.Count())
}

func TestEnterGameEntersDefaultWorld(t *testing.T) {
	e := newTestEnv(t)
	s, rec := e.login(t, 1, "alice")

	require.NoError(t, e.send(1, proto.MsgGenericText, "action|enter_game\n"))
	w := e.worlds.GetWorldByName("START")
	require.NotNil(t, w)
	assert.True(t, w.Has(1))
	assert.Equal(t, session.EnteredWorld, s.Phase())
	assert.Contains(t, rec.calls(), "OnSpawn")
}

func TestQuitIssuesSingleDisconnect(t *testing.T) {
	e := newTestEnv(t)
	s, rec := e.login(t, 1, "alice")
	require.NoError(t, e.send(1, proto.MsgGenericText, "action|enter_game\n"))
	sent, _ := rec.counts()

	require.NoError(t, e.send(1, proto.MsgGameMessage, "action|quit"))
	after, _ := rec.counts()
	assert.Equal(t, sent, after, "nothing else is sent")
	assert.Equal(t, []uint32{0}, rec.disconnects)
	assert.Equal(t, session.EnteredWorld, s.Phase())
	assert.True(t, e.worlds.GetWorldByName("START").Has(1))
}

func TestRefreshItemData(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t, 1)
	assert.ErrorIs(t, e.send(1, proto.MsgGenericText, "action|refresh_item_data\n"), ErrUnauthenticated)

	_, rec := e.login(t, 2, "alice")
	err := e.send(2, proto.MsgGenericText, "action|refresh_item_data\n")
	assert.ErrorIs(t, err, ErrMissingCollaboratorData)
	assert.Contains(t, rec.console(), "Something went wrong trying to update the items data.")
	_, disc := rec.counts()
	assert.Zero(t, disc)

	e.items.packet = []byte{4, 0, 0, 0, 16}
	require.NoError(t, e.send(2, proto.MsgGenericText, "action|refresh_item_data\n"))
	assert.Equal(t, e.items.packet, rec.sent[len(rec.sent)-1])
}

func TestJoinRequest(t *testing.T) {
	e := newTestEnv(t)
	s, rec := e.login(t, 1, "alice")

	require.NoError(t, e.send(1, proto.MsgGameMessage, "action|join_request\nname|buy\ninvitedWorld|0\n"))
	assert.Equal(t, "BUY", s.World().WorldName())

	err := e.send(1, proto.MsgGameMessage, "action|join_request\nname|BROKEN\n")
	assert.ErrorIs(t, err, ErrInvalidWorldEnter)
	assert.Equal(t, "BUY", s.World().WorldName())
	assert.Contains(t, rec.console(), "Unable to enter world `wBROKEN``.")
	assert.Contains(t, rec.calls(), "OnFailedToEnterWorld")

	assert.ErrorIs(t, e.send(1, proto.MsgGameMessage, "action|join_request\nname|\n"), ErrInvalidWorldEnter)
}

func TestQuitToExit(t *testing.T) {
	e := newTestEnv(t)
	s, rec := e.login(t, 1, "alice")
	require.NoError(t, e.send(1, proto.MsgGenericText, "action|enter_game\n"))
	w := e.worlds.GetWorldByName("START")

	require.NoError(t, e.send(1, proto.MsgGameMessage, "action|quit_to_exit\n"))
	assert.Nil(t, s.World())
	assert.False(t, w.Has(1))
	calls := rec.calls()
	assert.Equal(t, "OnRequestWorldSelectMenu", calls[len(calls)-1])

	sent, _ := rec.counts()
	require.NoError(t, e.send(1, proto.MsgGameMessage, "action|quit_to_exit\n"))
	after, _ := rec.counts()
	assert.Equal(t, sent, after, "exit twice is a no-op")
}

func TestWorldButtonAccepted(t *testing.T) {
	e := newTestEnv(t)
	_, rec := e.login(t, 1, "alice")
	sent, _ := rec.counts()
	assert.NoError(t, e.send(1, proto.MsgGameMessage, "action|world_button\nname|_16\n"))
	after, _ := rec.counts()
	assert.Equal(t, sent, after)
}

func TestOnDisconnectCleansUp(t *testing.T) {
	e := newTestEnv(t)
	s, _ := e.login(t, 1, "alice")
	_, bobRec := e.login(t, 2, "bob")
	require.NoError(t, e.send(1, proto.MsgGenericText, "action|enter_game\n"))
	require.NoError(t, e.send(2, proto.MsgGenericText, "action|enter_game\n"))
	w := e.worlds.GetWorldByName("START")

	e.srv.OnDisconnect(context.Background(), 1)
	assert.Equal(t, session.Disconnected, s.State())
	assert.Nil(t, s.World())
	assert.False(t, w.Has(1))
	assert.Nil(t, e.srv.Sessions().Get(1))
	assert.Zero(t, e.bus.Subscribers(1))
	assert.Equal(t, []string{"alice"}, e.accounts.released)

	console := bobRec.console()
	assert.Contains(t, console[len(console)-1], "alice")

	// Later envelopes for the closed handle are dropped.
	assert.ErrorIs(t, e.send(1, proto.MsgGenericText, "action|enter_game\n"), ErrNoSession)
	e.srv.OnDisconnect(context.Background(), 1)
}

func TestOnReceiveCountsOutcomes(t *testing.T) {
	e, m := newMetricsEnv(t)
	ctx := context.Background()
	e.connect(t, 1)

	e.srv.OnReceive(ctx, 1, []byte{1})
	e.srv.OnReceive(ctx, 1, proto.EncodeText(proto.MsgGenericText, "requestedName|alice\n"))
	e.srv.OnReceive(ctx, 1, proto.EncodeText(proto.MsgGenericText, string(make([]byte, 2000))))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.envelopesTotal.WithLabelValues("none", "malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.envelopesTotal.WithLabelValues("generic_text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.envelopesTotal.WithLabelValues("generic_text", "oversized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logonsTotal.WithLabelValues("guest", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsTotal.WithLabelValues("enet")))
}

func TestShutdownDisconnectsEveryone(t *testing.T) {
	e := newTestEnv(t)
	_, a := e.connect(t, 1)
	_, b := e.login(t, 2, "bob")
	e.srv.Shutdown()
	assert.Equal(t, []uint32{0}, a.disconnects)
	assert.Equal(t, []uint32{0}, b.disconnects)
}
