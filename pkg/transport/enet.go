package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codecat/go-enet"
	"go.uber.org/zap"
)

var ErrUnknownConn = errors.New("transport: unknown connection")

// ENetConfig configures the UDP host.
type ENetConfig struct {
	Port        uint16
	MaxPeers    uint64
	Channels    uint64
	ServiceWait uint32 // milliseconds per Service call
}

// ENet is the primary game transport. The ENet host is not safe for
// concurrent use, so every host call happens on the Run goroutine; sends
// from anywhere are queued and flushed by that loop.
type ENet struct {
	cfg ENetConfig
	ids *IDs
	log *zap.Logger

	mu     sync.Mutex
	byPeer map[enet.Peer]ConnID
	byID   map[ConnID]enet.Peer
	outbox []outbound
}

type outbound struct {
	id         ConnID
	data       []byte
	reliable   bool
	disconnect bool
	reason     uint32
}

// NewENet creates an ENet adapter. ids is shared with other adapters.
func NewENet(cfg ENetConfig, ids *IDs, log *zap.Logger) *ENet {
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = 1024
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	if cfg.ServiceWait == 0 {
		cfg.ServiceWait = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ENet{
		cfg:    cfg,
		ids:    ids,
		log:    log.Named("enet"),
		byPeer: make(map[enet.Peer]ConnID),
		byID:   make(map[ConnID]enet.Peer),
	}
}

// Send implements Sender.
func (e *ENet) Send(id ConnID, data []byte, reliable bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConn, id)
	}
	e.outbox = append(e.outbox, outbound{id: id, data: data, reliable: reliable})
	return nil
}

// DisconnectLater implements Sender.
func (e *ENet) DisconnectLater(id ConnID, reason uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownConn, id)
	}
	e.outbox = append(e.outbox, outbound{id: id, disconnect: true, reason: reason})
	return nil
}

// Conns returns the number of connected peers.
func (e *ENet) Conns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byID)
}

// Run services the host until ctx is cancelled.
func (e *ENet) Run(ctx context.Context, h Handler) error {
	enet.Initialize()
	defer enet.Deinitialize()

	host, err := enet.NewHost(enet.NewListenAddress(e.cfg.Port), e.cfg.MaxPeers, e.cfg.Channels, 0, 0)
	if err != nil {
		return fmt.Errorf("transport: enet host on port %d: %w", e.cfg.Port, err)
	}
	defer host.Destroy()
	if err := host.CompressWithRangeCoder(); err != nil {
		e.log.Warn("range coder unavailable", zap.Error(err))
	}
	e.log.Info("listening", zap.Uint16("port", e.cfg.Port), zap.Uint64("max_peers", e.cfg.MaxPeers))

	for ctx.Err() == nil {
		e.flush()
		ev := host.Service(e.cfg.ServiceWait)
		switch ev.GetType() {
		case enet.EventNone:
			continue
		case enet.EventConnect:
			e.handleConnect(ctx, h, ev.GetPeer())
		case enet.EventReceive:
			pkt := ev.GetPacket()
			e.handleReceive(ctx, h, ev.GetPeer(), pkt.GetData())
			pkt.Destroy()
		case enet.EventDisconnect:
			e.handleDisconnect(ctx, h, ev.GetPeer())
		}
	}
	e.flush()
	e.log.Info("stopped")
	return nil
}

func (e *ENet) handleConnect(ctx context.Context, h Handler, peer enet.Peer) {
	id := e.ids.Next()
	e.mu.Lock()
	e.byPeer[peer] = id
	e.byID[id] = peer
	e.mu.Unlock()
	h.OnConnect(ctx, id, peer.GetAddress().String(), e, KindENet)
}

func (e *ENet) handleReceive(ctx context.Context, h Handler, peer enet.Peer, data []byte) {
	e.mu.Lock()
	id, ok := e.byPeer[peer]
	e.mu.Unlock()
	if !ok {
		id = NoConn
	}
	h.OnReceive(ctx, id, data)
}

func (e *ENet) handleDisconnect(ctx context.Context, h Handler, peer enet.Peer) {
	e.mu.Lock()
	id, ok := e.byPeer[peer]
	delete(e.byPeer, peer)
	delete(e.byID, id)
	e.mu.Unlock()
	if ok {
		h.OnDisconnect(ctx, id)
	}
}

// flush drains the outbox onto the host. Only called from Run.
func (e *ENet) flush() {
	e.mu.Lock()
	queue := e.outbox
	e.outbox = nil
	peers := make(map[ConnID]enet.Peer, len(queue))
	for _, o := range queue {
		if p, ok := e.byID[o.id]; ok {
			peers[o.id] = p
		}
	}
	e.mu.Unlock()

	for _, o := range queue {
		peer, ok := peers[o.id]
		if !ok {
			continue
		}
		if o.disconnect {
			peer.DisconnectLater(o.reason)
			continue
		}
		flags := enet.PacketFlags(0)
		if o.reliable {
			flags = enet.PacketFlagReliable
		}
		if err := peer.SendBytes(o.data, 0, flags); err != nil {
			e.log.Debug("send failed", zap.Uint64("conn", uint64(o.id)), zap.Error(err))
		}
	}
}
