package world

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/events"
	"github.com/nova-gt/novaserver/pkg/proto"
	"github.com/nova-gt/novaserver/pkg/session"
)

// maxOffers caps the number of floaters in the world select menu.
const maxOffers = 32

// Registry indexes active worlds by name and id. The index lock only covers
// the maps; membership uses each world's lock. Both are taken after the
// session lock, never before it.
type Registry struct {
	log     *zap.Logger
	loader  Loader
	catalog Catalog
	bus     *events.Bus

	mu     sync.RWMutex
	byName map[string]*World
	byID   map[int]*World
}

// NewRegistry creates a registry. catalog and bus may be nil.
func NewRegistry(loader Loader, catalog Catalog, bus *events.Bus, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:     log.Named("world"),
		loader:  loader,
		catalog: catalog,
		bus:     bus,
		byName:  make(map[string]*World),
		byID:    make(map[int]*World),
	}
}

// GetWorldByName returns the active world with exactly this name, or nil.
// Worlds are never created here.
func (r *Registry) GetWorldByName(name string) *World {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// GetWorldByID returns the active world with this id, or nil.
func (r *Registry) GetWorldByID(id int) *World {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Active returns all active worlds ordered by name.
func (r *Registry) Active() []*World {
	r.mu.RLock()
	out := make([]*World, 0, len(r.byName))
	for _, w := range r.byName {
		out = append(out, w)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of active worlds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Enter moves the session into the named world, loading it if needed. On
// failure nothing changes and false is returned. A freshly loaded world is
// only registered once the session has joined it.
func (r *Registry) Enter(ctx context.Context, s *session.Session, name string, spawn Vec2) bool {
	log := r.log.With(zap.Uint64("conn", uint64(s.ID)), zap.String("world", name))

	name, err := NormalizeName(name)
	if err != nil {
		log.Debug("enter rejected", zap.Error(err))
		return false
	}
	w, snapshot, loaded, err := r.resolve(ctx, name)
	if err != nil {
		log.Warn("enter failed", zap.Error(err))
		return false
	}

	var (
		entered bool
		rejoin  bool
		prev    *World
		netID   int32
	)
	s.UpdateWorld(func(cur session.WorldRef, st session.State) session.WorldRef {
		if st == session.Disconnected {
			return cur
		}
		if loaded {
			w = r.activate(w)
		}
		entered = true
		if p, ok := cur.(*World); ok && p != nil {
			if p == w {
				rejoin = true
				netID, _ = w.NetID(s.ID)
				return w
			}
			p.remove(s.ID)
			prev = p
		}
		netID = w.add(s)
		return w
	})
	if !entered {
		log.Debug("enter rejected for disconnected session")
		return false
	}
	if prev != nil {
		r.emitExit(s, prev)
	}

	if spawn == (Vec2{}) {
		spawn = w.Spawn
	}
	others := w.MemberCount() - 1
	s.SendConsole(fmt.Sprintf("World `w%s`` entered.  There are `w%d`` other people here.", w.Name, others))
	s.SendPacket(proto.EncodeGamePacket(&proto.TankPacket{
		Type:  proto.PacketSendMapData,
		NetID: -1,
		Flags: proto.FlagExtended,
		Ext:   snapshot,
	}))
	id := s.Identity()
	s.SendPacket(proto.CallFunction(-1, 0, proto.Str("OnSpawn"), proto.Str(spawnText(netID, id, spawn))))

	if rejoin {
		log.Debug("rejoined current world", zap.Int32("net_id", netID))
		return true
	}
	if r.bus != nil {
		r.bus.Emit(events.Event{Type: events.EvEnterWorld, Conn: s.ID, Addr: s.Addr, Account: id.Name, World: w.Name})
		r.bus.EmitToConns(w.MemberIDs(), s.ID, events.Event{
			Type:  events.EvText,
			World: w.Name,
			Text:  fmt.Sprintf("`5<`w%s`` entered, `w%d`` others here>``", id.Name, others),
		})
	}
	log.Info("entered world", zap.String("account", id.Name), zap.Int32("net_id", netID))
	return true
}

// resolve returns the active world, or loads one without registering it.
// loaded reports the latter; the caller activates it.
func (r *Registry) resolve(ctx context.Context, name string) (w *World, snap []byte, loaded bool, err error) {
	if r.loader == nil {
		return nil, nil, false, ErrNoLoader
	}
	if w = r.GetWorldByName(name); w == nil {
		if w, err = r.loader.Load(ctx, name); err != nil {
			return nil, nil, false, fmt.Errorf("world: load %s: %w", name, err)
		}
		if w == nil {
			return nil, nil, false, fmt.Errorf("world: load %s: %w", name, ErrNotFound)
		}
		loaded = true
	}
	if snap, err = r.loader.Snapshot(ctx, w); err != nil {
		return nil, nil, false, fmt.Errorf("world: snapshot %s: %w", name, err)
	}
	return w, snap, loaded, nil
}

// activate registers a loaded world. If another caller got there first the
// registered world wins.
func (r *Registry) activate(w *World) *World {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.byName[w.Name]; existing != nil {
		return existing
	}
	r.byName[w.Name] = w
	r.byID[w.ID] = w
	r.log.Info("world activated", zap.String("world", w.Name), zap.Int("id", w.ID))
	return w
}

// Exit removes the session from its world. Calling it when the session is
// not in a world does nothing, offers included.
func (r *Registry) Exit(ctx context.Context, s *session.Session, showOffers bool) {
	var left *World
	s.UpdateWorld(func(cur session.WorldRef, _ session.State) session.WorldRef {
		if w, ok := cur.(*World); ok && w != nil {
			w.remove(s.ID)
			left = w
		}
		return nil
	})
	if left == nil {
		return
	}
	r.emitExit(s, left)
	if showOffers {
		if err := r.SendWorldOffers(ctx, s, true); err != nil {
			r.log.Warn("world offers", zap.Uint64("conn", uint64(s.ID)), zap.Error(err))
		}
	}
}

func (r *Registry) emitExit(s *session.Session, w *World) {
	name := s.Identity().Name
	r.log.Info("left world", zap.Uint64("conn", uint64(s.ID)), zap.String("world", w.Name), zap.String("account", name))
	if r.bus == nil {
		return
	}
	r.bus.Emit(events.Event{Type: events.EvExitWorld, Conn: s.ID, Addr: s.Addr, Account: name, World: w.Name})
	r.bus.EmitToConns(w.MemberIDs(), s.ID, events.Event{
		Type:  events.EvText,
		World: w.Name,
		Text:  fmt.Sprintf("`5<`w%s`` left, `w%d`` others here>``", name, w.MemberCount()),
	})
}

// Offer is one entry of the world select menu.
type Offer struct {
	Name    string
	Players int
}

// Offers lists joinable worlds, busiest first. With onlineOnly unset the
// catalog is merged in.
func (r *Registry) Offers(ctx context.Context, onlineOnly bool) ([]Offer, error) {
	seen := make(map[string]bool)
	var out []Offer
	for _, w := range r.Active() {
		out = append(out, Offer{Name: w.Name, Players: w.MemberCount()})
		seen[w.Name] = true
	}
	if !onlineOnly && r.catalog != nil {
		names, err := r.catalog.Names(ctx)
		if err != nil {
			return nil, fmt.Errorf("world: catalog: %w", err)
		}
		for _, n := range names {
			if !seen[n] {
				out = append(out, Offer{Name: n})
				seen[n] = true
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Players > out[j].Players })
	if len(out) > maxOffers {
		out = out[:maxOffers]
	}
	return out, nil
}

// SendWorldOffers sends the world select menu to the session.
func (r *Registry) SendWorldOffers(ctx context.Context, s *session.Session, onlineOnly bool) error {
	offers, err := r.Offers(ctx, onlineOnly)
	if err != nil {
		return err
	}
	return s.SendPacket(proto.CallFunction(-1, 0, proto.Str("OnRequestWorldSelectMenu"), proto.Str(OfferMenu(offers))))
}

// OfferMenu renders offers in the client's menu markup.
func OfferMenu(offers []Offer) string {
	var b strings.Builder
	b.WriteString("default|\n")
	b.WriteString("add_button|Showing: `wWorlds``|_catselect_|0.6|3529161471|\n")
	for _, o := range offers {
		scale := 0.5 + float64(min(o.Players, 50))/100
		fmt.Fprintf(&b, "add_floater|%s|%d|%.2f|3529161471\n", o.Name, o.Players, scale)
	}
	return b.String()
}

func spawnText(netID int32, id session.Identity, pos Vec2) string {
	return fmt.Sprintf("spawn|avatar\nnetID|%d\nuserID|%d\ncolrect|0|0|20|30\nposXY|%d|%d\nname|``%s``\ncountry|us\ninvis|0\nmstate|0\nsmstate|0\ntype|local\n",
		netID, id.UserID, int(pos.X), int(pos.Y), id.Name)
}
