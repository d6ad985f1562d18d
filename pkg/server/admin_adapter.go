package server

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/nova-gt/novaserver/pkg/admin"
	"github.com/nova-gt/novaserver/pkg/archive"
	"github.com/nova-gt/novaserver/pkg/events"
	"github.com/nova-gt/novaserver/pkg/session"
	"github.com/nova-gt/novaserver/pkg/transport"
)

var errAuditDisabled = errors.New("audit log is disabled")

// Banner updates account ban flags.
type Banner interface {
	SetBanned(name string, banned bool) error
}

// AdminOptions holds the collaborators the admin API reaches through the
// server. Nil funcs report the feature as unavailable.
type AdminOptions struct {
	Accounts    Banner
	Audit       *AuditLog
	Snapshot    func() (string, error)
	ArchiveDir  string
	ReloadItems func() error
	Stop        func()
}

// AdminAdapter implements admin.Controller on top of a Server.
type AdminAdapter struct {
	srv  *Server
	opts AdminOptions
}

var _ admin.Controller = (*AdminAdapter)(nil)

// NewAdminAdapter wraps srv for the admin API.
func NewAdminAdapter(srv *Server, opts AdminOptions) *AdminAdapter {
	return &AdminAdapter{srv: srv, opts: opts}
}

func (aa *AdminAdapter) Status() map[string]any {
	srv := aa.srv
	phases := make(map[string]int)
	for st, n := range srv.sessions.CountByPhase() {
		phases[st.String()] = n
	}
	status := map[string]any{
		"version":        Version,
		"uptime_seconds": srv.Uptime().Seconds(),
		"sessions":       srv.sessions.Count(),
		"phases":         phases,
	}
	if srv.worlds != nil {
		worlds := make([]map[string]any, 0)
		for _, w := range srv.worlds.Active() {
			worlds = append(worlds, map[string]any{"id": w.ID, "name": w.Name, "members": w.MemberCount()})
		}
		status["worlds"] = worlds
	}
	if srv.items != nil {
		info := srv.items.Info()
		status["items"] = map[string]any{"version": info.Version, "count": info.Count, "hash": info.Hash, "loaded_at": info.LoadedAt}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	status["memory"] = map[string]any{
		"heap_alloc": mem.HeapAlloc,
		"sys":        mem.Sys,
		"num_gc":     mem.NumGC,
		"goroutines": runtime.NumGoroutine(),
	}
	return status
}

func (aa *AdminAdapter) Sessions() []admin.SessionInfo {
	all := aa.srv.sessions.All()
	out := make([]admin.SessionInfo, 0, len(all))
	for _, s := range all {
		id := s.Identity()
		info := admin.SessionInfo{
			Conn:      uint64(s.ID),
			Addr:      s.Addr,
			Transport: s.Kind.String(),
			State:     s.Phase().String(),
			Account:   id.Name,
			Guest:     id.Guest,
			Online:    time.Since(s.ConnTime).Seconds(),
		}
		if w := s.World(); w != nil {
			info.World = w.WorldName()
		}
		out = append(out, info)
	}
	return out
}

func (aa *AdminAdapter) Kick(conn uint64, reason string) bool {
	s := aa.srv.sessions.Get(transport.ConnID(conn))
	if s == nil {
		return false
	}
	kick(s, reason)
	return true
}

func kick(s *session.Session, reason string) {
	if reason == "" {
		reason = "You have been disconnected by an administrator."
	}
	s.SendConsole("`4" + reason + "``")
	s.DisconnectLater(0)
}

func (aa *AdminAdapter) SetBanned(name string, banned bool) error {
	if aa.opts.Accounts == nil {
		return errors.New("account store unavailable")
	}
	if err := aa.opts.Accounts.SetBanned(name, banned); err != nil {
		return err
	}
	if banned {
		if s := aa.srv.sessions.FindByName(name); s != nil {
			kick(s, "This account has been banned.")
		}
	}
	return nil
}

// Broadcast goes through the event bus so only logged-on sessions see it.
func (aa *AdminAdapter) Broadcast(text string) int {
	var ids []transport.ConnID
	for _, s := range aa.srv.sessions.All() {
		if s.IsAuthenticated() {
			ids = append(ids, s.ID)
		}
	}
	aa.srv.bus.EmitToConns(ids, transport.NoConn, events.Event{Type: events.EvText, Text: "`5** " + text + "``"})
	return len(ids)
}

func (aa *AdminAdapter) Audit(ctx context.Context, account string, limit int) ([]admin.AuditEntry, error) {
	if aa.opts.Audit == nil {
		return nil, errAuditDisabled
	}
	recs, err := aa.opts.Audit.Recent(ctx, account, limit)
	if err != nil {
		return nil, err
	}
	out := make([]admin.AuditEntry, len(recs))
	for i, r := range recs {
		out[i] = admin.AuditEntry(r)
	}
	return out, nil
}

func (aa *AdminAdapter) CreateArchive() (string, error) {
	if aa.opts.Snapshot == nil {
		return "", errors.New("archiving is not configured")
	}
	return aa.opts.Snapshot()
}

func (aa *AdminAdapter) Archives() ([]archive.Info, error) {
	if aa.opts.ArchiveDir == "" {
		return []archive.Info{}, nil
	}
	return archive.List(aa.opts.ArchiveDir)
}

func (aa *AdminAdapter) ReloadItems() error {
	if aa.opts.ReloadItems == nil {
		return errors.New("item database reload unavailable")
	}
	return aa.opts.ReloadItems()
}

// Shutdown hands off to Stop when set; the owner of the run then shuts the
// server down. Without Stop the sessions are only disconnected.
func (aa *AdminAdapter) Shutdown() {
	if aa.opts.Stop != nil {
		aa.opts.Stop()
		return
	}
	aa.srv.Shutdown()
}
