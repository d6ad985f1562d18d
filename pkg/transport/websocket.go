package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const wsWriteWait = 5 * time.Second

// WebSocket carries the same envelopes as ENet in binary frames, for bots
// and debugging clients. Each frame is one envelope. TCP makes every send
// reliable, so the reliable flag is ignored.
type WebSocket struct {
	ids      *IDs
	log      *zap.Logger
	handler  Handler
	ctx      context.Context
	upgrader websocket.Upgrader

	// dispatch serializes handler calls across connections so the handler
	// sees one delivery loop, like ENet.
	dispatch sync.Mutex

	mu    sync.Mutex
	conns map[ConnID]*wsConn
}

// wsConn holds the WebSocket connection and its write mutex.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (wc *wsConn) write(data []byte) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wc.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (wc *wsConn) close(reason uint32) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, fmt.Sprint(reason))
	wc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	wc.conn.Close()
}

// NewWebSocket creates a WebSocket adapter delivering to h. origins limits
// accepted Origin headers; empty allows all.
func NewWebSocket(ctx context.Context, h Handler, ids *IDs, origins []string, log *zap.Logger) *WebSocket {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebSocket{
		ids:     ids,
		log:     log.Named("ws"),
		handler: h,
		ctx:     ctx,
		conns:   make(map[ConnID]*wsConn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range origins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}
}

// Send implements Sender.
func (ws *WebSocket) Send(id ConnID, data []byte, _ bool) error {
	wc := ws.get(id)
	if wc == nil {
		return fmt.Errorf("%w: %d", ErrUnknownConn, id)
	}
	return wc.write(data)
}

// DisconnectLater implements Sender. Writes are synchronous, so everything
// sent before this call has already been flushed.
func (ws *WebSocket) DisconnectLater(id ConnID, reason uint32) error {
	wc := ws.get(id)
	if wc == nil {
		return fmt.Errorf("%w: %d", ErrUnknownConn, id)
	}
	go wc.close(reason)
	return nil
}

// Conns returns the number of open WebSocket connections.
func (ws *WebSocket) Conns() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.conns)
}

func (ws *WebSocket) get(id ConnID) *wsConn {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conns[id]
}

// ServeHTTP upgrades the request and runs the read loop until the peer goes
// away.
func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	wc := &wsConn{conn: conn}
	id := ws.ids.Next()
	addr := RemoteAddr(r)

	ws.mu.Lock()
	ws.conns[id] = wc
	ws.mu.Unlock()

	ws.dispatch.Lock()
	ws.handler.OnConnect(ws.ctx, id, addr, ws, KindWebSocket)
	ws.dispatch.Unlock()

	defer func() {
		ws.mu.Lock()
		delete(ws.conns, id)
		ws.mu.Unlock()
		conn.Close()

		ws.dispatch.Lock()
		ws.handler.OnDisconnect(ws.ctx, id)
		ws.dispatch.Unlock()
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.log.Debug("read error", zap.Uint64("conn", uint64(id)), zap.Error(err))
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		ws.dispatch.Lock()
		ws.handler.OnReceive(ws.ctx, id, data)
		ws.dispatch.Unlock()
	}
}

// RemoteAddr returns the client address, honoring X-Forwarded-For and
// X-Real-IP when running behind a reverse proxy.
func RemoteAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First entry is the real client.
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return r.RemoteAddr
}
