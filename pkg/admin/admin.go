// Package admin serves the operator API: server status, connected sessions,
// bans, broadcasts, the audit trail, archives and a graceful shutdown with
// in-game warnings.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/archive"
)

// Controller is the interface the admin API uses to control the game server.
// It avoids an import cycle with the server package.
type Controller interface {
	// Status returns a snapshot of server state for the dashboard.
	Status() map[string]any
	// Sessions lists attached connections.
	Sessions() []SessionInfo
	// Kick disconnects a connection. False when it is not attached.
	Kick(conn uint64, reason string) bool
	// SetBanned updates an account's ban flag, kicking it when banned.
	SetBanned(name string, banned bool) error
	// Broadcast shows text on every logged-on client's console and returns
	// the number of recipients.
	Broadcast(text string) int
	// Audit returns recent audit records, newest first.
	Audit(ctx context.Context, account string, limit int) ([]AuditEntry, error)
	// CreateArchive writes a snapshot and returns its path.
	CreateArchive() (string, error)
	// Archives lists existing snapshots.
	Archives() ([]archive.Info, error)
	// ReloadItems rereads the item database.
	ReloadItems() error
	// Shutdown stops the server.
	Shutdown()
}

// SessionInfo describes one attached connection.
type SessionInfo struct {
	Conn      uint64  `json:"conn"`
	Addr      string  `json:"addr"`
	Transport string  `json:"transport"`
	State     string  `json:"state"`
	Account   string  `json:"account,omitempty"`
	Guest     bool    `json:"guest,omitempty"`
	World     string  `json:"world,omitempty"`
	Online    float64 `json:"online_seconds"`
}

// AuditEntry is one audit record.
type AuditEntry struct {
	Time    time.Time `json:"time"`
	Event   string    `json:"event"`
	Conn    uint64    `json:"conn"`
	Addr    string    `json:"addr,omitempty"`
	Account string    `json:"account,omitempty"`
	Flow    string    `json:"flow,omitempty"`
	World   string    `json:"world,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// ShutdownStatus tracks a pending graceful shutdown.
type ShutdownStatus struct {
	Active     bool      `json:"active"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	ShutdownAt time.Time `json:"shutdown_at,omitzero"`
	Remaining  int       `json:"remaining"`
	Stage      string    `json:"stage,omitempty"` // "warning", "countdown", "archiving", "disconnecting", "done"
}

// Options configures an Admin.
type Options struct {
	DataDir  string // Holds the stored password hash
	Password string // Always wins over the stored hash when set
	Logger   *zap.Logger
}

// Admin is the admin API HTTP handler.
type Admin struct {
	mu         sync.Mutex
	controller Controller
	auth       *adminAuth
	log        *zap.Logger

	shutdownStatus atomic.Value // *ShutdownStatus
	shutdownCancel context.CancelFunc

	// Test hook; the shutdown sequence sleeps through it.
	after func(time.Duration) <-chan time.Time
}

// New creates an Admin handler for controller.
func New(controller Controller, opts Options) *Admin {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("admin")
	return &Admin{
		controller: controller,
		auth:       newAdminAuth(opts.DataDir, opts.Password, log),
		log:        log,
		after:      time.After,
	}
}

// Handler returns an http.Handler that serves the admin API at prefix
// (without trailing slash, e.g. "/admin").
func (a *Admin) Handler(prefix string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/login", a.handleAuthLogin)
	mux.HandleFunc("POST /api/auth/logout", a.handleAuthLogout)
	mux.HandleFunc("POST /api/auth/change-password", a.handleAuthChangePassword)
	mux.HandleFunc("GET /api/auth/status", a.handleAuthStatus)

	mux.HandleFunc("GET /api/server/status", a.handleServerStatus)
	mux.HandleFunc("POST /api/server/shutdown", a.handleServerShutdown)
	mux.HandleFunc("GET /api/server/shutdown", a.handleShutdownStatus)
	mux.HandleFunc("DELETE /api/server/shutdown", a.handleShutdownCancel)
	mux.HandleFunc("POST /api/server/broadcast", a.handleBroadcast)
	mux.HandleFunc("POST /api/server/reload-items", a.handleReloadItems)

	mux.HandleFunc("GET /api/sessions", a.handleSessions)
	mux.HandleFunc("DELETE /api/sessions/{conn}", a.handleKick)
	mux.HandleFunc("PUT /api/accounts/{name}/ban", a.handleBan)
	mux.HandleFunc("DELETE /api/accounts/{name}/ban", a.handleUnban)
	mux.HandleFunc("GET /api/audit", a.handleAudit)
	mux.HandleFunc("GET /api/archives", a.handleArchives)
	mux.HandleFunc("POST /api/archives", a.handleCreateArchive)

	return http.StripPrefix(prefix, a.authMiddleware(mux))
}

// readJSON decodes a JSON request body.
func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
