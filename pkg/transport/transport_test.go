package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoHandler replies to every envelope with the same bytes and closes the
// connection when it receives "bye".
type echoHandler struct {
	mu          sync.Mutex
	senders     map[ConnID]Sender
	connects    []ConnID
	disconnects []ConnID
	received    [][]byte
}

func (h *echoHandler) OnConnect(_ context.Context, id ConnID, _ string, s Sender, kind Kind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.senders == nil {
		h.senders = make(map[ConnID]Sender)
	}
	h.senders[id] = s
	h.connects = append(h.connects, id)
}

func (h *echoHandler) OnReceive(_ context.Context, id ConnID, data []byte) {
	h.mu.Lock()
	s := h.senders[id]
	h.received = append(h.received, data)
	h.mu.Unlock()
	if string(data) == "bye" {
		s.DisconnectLater(id, 0)
		return
	}
	s.Send(id, data, true)
}

func (h *echoHandler) OnDisconnect(_ context.Context, id ConnID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, id)
}

func (h *echoHandler) disconnected() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnects)
}

func TestIDsNeverZero(t *testing.T) {
	var ids IDs
	seen := map[ConnID]bool{}
	for range 100 {
		id := ids.Next()
		assert.NotEqual(t, NoConn, id)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	h := &echoHandler{}
	ids := &IDs{}
	ws := NewWebSocket(context.Background(), h, ids, nil, zap.NewNop())
	srv := httptest.NewServer(ws)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{2, 0, 0, 0, 'h', 'i', 0}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{2, 0, 0, 0, 'h', 'i', 0}, data)
	assert.Equal(t, 1, ws.Conns())

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("bye")))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "server closes after disconnect-later")

	assert.Eventually(t, func() bool { return h.disconnected() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, ws.Conns())
	assert.ErrorIs(t, ws.Send(h.connects[0], []byte("x"), true), ErrUnknownConn)
}

func TestWebSocketIgnoresTextFrames(t *testing.T) {
	h := &echoHandler{}
	ws := NewWebSocket(context.Background(), h, &IDs{}, nil, zap.NewNop())
	srv := httptest.NewServer(ws)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("bye")))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	conn.Close()

	assert.Eventually(t, func() bool { return h.disconnected() == 1 }, 5*time.Second, 10*time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.received, 1)
	assert.Equal(t, "bye", string(h.received[0]))
}

func TestRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1:5555", RemoteAddr(r))

	r.Header.Set("X-Real-IP", "1.2.3.4")
	assert.Equal(t, "1.2.3.4", RemoteAddr(r))

	r.Header.Set("X-Forwarded-For", "5.6.7.8, 10.0.0.1")
	assert.Equal(t, "5.6.7.8", RemoteAddr(r))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "enet", KindENet.String())
	assert.Equal(t, "websocket", KindWebSocket.String())
	assert.Equal(t, "unknown", Kind(9).String())
}
