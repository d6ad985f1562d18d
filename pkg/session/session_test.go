package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-gt/novaserver/pkg/proto"
	"github.com/nova-gt/novaserver/pkg/transport"
)

type sentPacket struct {
	id       transport.ConnID
	data     []byte
	reliable bool
}

type fakeSender struct {
	mu          sync.Mutex
	sent        []sentPacket
	disconnects []uint32
}

func (f *fakeSender) Send(id transport.ConnID, data []byte, reliable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{id, data, reliable})
	return nil
}

func (f *fakeSender) DisconnectLater(_ transport.ConnID, data uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, data)
	return nil
}

type fakeWorld struct{ name string }

func (w fakeWorld) WorldID() int      { return 1 }
func (w fakeWorld) WorldName() string { return w.name }

func TestLogonTransitions(t *testing.T) {
	s := New(1, "127.0.0.1:1", &fakeSender{}, transport.KindENet)
	assert.Equal(t, Connected, s.State())

	require.NoError(t, s.BeginLogon(FlowGuest))
	assert.Equal(t, GuestPending, s.State())

	err := s.BeginLogon(FlowRegistered)
	assert.ErrorIs(t, err, ErrLogonInProgress)
	assert.Equal(t, GuestPending, s.State(), "pending flow must not be overwritten")

	err = s.CompleteLogon(FlowRegistered, Identity{Name: "x"})
	assert.ErrorIs(t, err, ErrNotPending)

	require.NoError(t, s.CompleteLogon(FlowGuest, Identity{Name: "guest_1", Guest: true}))
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, "guest_1", s.Identity().Name)

	assert.ErrorIs(t, s.BeginLogon(FlowToken), ErrAlreadyAuthenticated)

	s.MarkDisconnected()
	assert.ErrorIs(t, s.BeginLogon(FlowGuest), ErrDisconnected)
}

func TestAbortLogonReturnsToConnected(t *testing.T) {
	s := New(2, "", &fakeSender{}, transport.KindENet)
	require.NoError(t, s.BeginLogon(FlowToken))
	assert.Equal(t, TokenPending, s.State())

	s.AbortLogon(FlowGuest)
	assert.Equal(t, TokenPending, s.State(), "abort of another flow is ignored")

	s.AbortLogon(FlowToken)
	assert.Equal(t, Connected, s.State())
	require.NoError(t, s.BeginLogon(FlowRegistered))
}

func TestBeginLogonSingleWinner(t *testing.T) {
	s := New(3, "", &fakeSender{}, transport.KindENet)
	flows := []Flow{FlowGuest, FlowRegistered, FlowToken, FlowGuest, FlowRegistered, FlowToken}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, f := range flows {
		wg.Add(1)
		go func(f Flow) {
			defer wg.Done()
			if s.BeginLogon(f) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(f)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestPhaseReportsEnteredWorld(t *testing.T) {
	s := New(4, "", &fakeSender{}, transport.KindENet)
	require.NoError(t, s.BeginLogon(FlowGuest))
	require.NoError(t, s.CompleteLogon(FlowGuest, Identity{Name: "a"}))

	s.UpdateWorld(func(cur WorldRef, st State) WorldRef {
		assert.Nil(t, cur)
		assert.Equal(t, Authenticated, st)
		return fakeWorld{"START"}
	})
	assert.Equal(t, EnteredWorld, s.Phase())
	assert.Equal(t, Authenticated, s.State())
	assert.Equal(t, "START", s.World().WorldName())

	s.UpdateWorld(func(WorldRef, State) WorldRef { return nil })
	assert.Equal(t, Authenticated, s.Phase())
}

func TestSendHelpers(t *testing.T) {
	fs := &fakeSender{}
	s := New(5, "", fs, transport.KindENet)

	require.NoError(t, s.SendConsole("hi"))
	require.NoError(t, s.DisconnectLater(0))

	require.Len(t, fs.sent, 1)
	assert.Equal(t, transport.ConnID(5), fs.sent[0].id)
	assert.True(t, fs.sent[0].reliable)
	assert.Equal(t, proto.ConsoleMessage("hi"), fs.sent[0].data)
	assert.Equal(t, []uint32{0}, fs.disconnects)

	orphan := New(6, "", nil, transport.KindENet)
	assert.ErrorIs(t, orphan.SendConsole("x"), ErrDisconnected)
}

func TestTable(t *testing.T) {
	tbl := NewTable()
	assert.False(t, tbl.Add(New(transport.NoConn, "", nil, transport.KindENet)))
	assert.Nil(t, tbl.Get(transport.NoConn))

	a := New(10, "", nil, transport.KindENet)
	b := New(11, "", nil, transport.KindWebSocket)
	require.True(t, tbl.Add(a))
	require.True(t, tbl.Add(b))
	assert.Equal(t, 2, tbl.Count())
	assert.Same(t, a, tbl.Get(10))

	require.NoError(t, b.BeginLogon(FlowRegistered))
	require.NoError(t, b.CompleteLogon(FlowRegistered, Identity{Name: "bob"}))
	assert.Same(t, b, tbl.FindByName("bob"))
	assert.Nil(t, tbl.FindByName("alice"))

	counts := tbl.CountByPhase()
	assert.Equal(t, 1, counts[Connected])
	assert.Equal(t, 1, counts[Authenticated])

	assert.Same(t, a, tbl.Remove(10))
	assert.Nil(t, tbl.Remove(10))
	assert.Equal(t, 1, tbl.Count())
}
