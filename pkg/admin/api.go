package admin

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var errNoDataDir = errors.New("admin: no data directory to store the password")

func (a *Admin) handleServerStatus(w http.ResponseWriter, _ *http.Request) {
	status := a.controller.Status()
	if s, _ := a.shutdownStatus.Load().(*ShutdownStatus); s != nil && s.Active {
		status["shutdown"] = s
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *Admin) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.controller.Sessions())
}

// handleKick handles DELETE /api/sessions/{conn}
func (a *Admin) handleKick(w http.ResponseWriter, r *http.Request) {
	conn, err := strconv.ParseUint(r.PathValue("conn"), 10, 64)
	if err != nil || conn == 0 {
		writeError(w, http.StatusBadRequest, "invalid connection id")
		return
	}
	if !a.controller.Kick(conn, r.URL.Query().Get("reason")) {
		writeError(w, http.StatusNotFound, "no such connection")
		return
	}
	a.log.Info("kicked", zap.Uint64("conn", conn))
	writeJSON(w, http.StatusOK, map[string]string{"status": "kicked"})
}

func (a *Admin) handleBan(w http.ResponseWriter, r *http.Request)   { a.setBanned(w, r, true) }
func (a *Admin) handleUnban(w http.ResponseWriter, r *http.Request) { a.setBanned(w, r, false) }

func (a *Admin) setBanned(w http.ResponseWriter, r *http.Request, banned bool) {
	name := r.PathValue("name")
	if err := a.controller.SetBanned(name, banned); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	a.log.Info("ban updated", zap.String("name", name), zap.Bool("banned", banned))
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "banned": banned})
}

func (a *Admin) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := readJSON(r, &req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	n := a.controller.Broadcast(req.Text)
	writeJSON(w, http.StatusOK, map[string]int{"recipients": n})
}

func (a *Admin) handleReloadItems(w http.ResponseWriter, _ *http.Request) {
	if err := a.controller.ReloadItems(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// handleAudit handles GET /api/audit?account=name&limit=n
func (a *Admin) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := a.controller.Audit(r.Context(), r.URL.Query().Get("account"), limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *Admin) handleArchives(w http.ResponseWriter, _ *http.Request) {
	list, err := a.controller.Archives()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *Admin) handleCreateArchive(w http.ResponseWriter, _ *http.Request) {
	path, err := a.controller.CreateArchive()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}
