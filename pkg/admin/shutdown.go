package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// handleServerShutdown starts a graceful shutdown with console warnings.
func (a *Admin) handleServerShutdown(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, _ := a.shutdownStatus.Load().(*ShutdownStatus); s != nil && s.Active {
		writeError(w, http.StatusConflict, "shutdown already in progress")
		return
	}

	var req struct {
		Delay  int    `json:"delay"`  // seconds until shutdown (default 300 = 5 min)
		Reason string `json:"reason"` // optional reason message
	}
	// An empty body means the defaults.
	_ = readJSON(r, &req)
	if req.Delay <= 0 {
		req.Delay = 300
	}
	if req.Reason == "" {
		req.Reason = "Server maintenance"
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.shutdownCancel = cancel

	shutdownAt := time.Now().Add(time.Duration(req.Delay) * time.Second)
	a.shutdownStatus.Store(&ShutdownStatus{
		Active:     true,
		Reason:     req.Reason,
		StartedAt:  time.Now(),
		ShutdownAt: shutdownAt,
		Remaining:  req.Delay,
		Stage:      "warning",
	})
	a.log.Info("graceful shutdown initiated", zap.Int("delay", req.Delay), zap.String("reason", req.Reason))

	go a.runShutdownSequence(ctx, req.Delay, req.Reason)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "shutdown_initiated",
		"delay":       req.Delay,
		"reason":      req.Reason,
		"shutdown_at": shutdownAt.Format(time.RFC3339),
	})
}

// handleShutdownStatus returns the current shutdown status.
func (a *Admin) handleShutdownStatus(w http.ResponseWriter, _ *http.Request) {
	s, _ := a.shutdownStatus.Load().(*ShutdownStatus)
	if s == nil || !s.Active {
		writeJSON(w, http.StatusOK, &ShutdownStatus{Active: false})
		return
	}
	resp := *s
	if s.Stage == "warning" || s.Stage == "countdown" {
		resp.Remaining = max(int(time.Until(s.ShutdownAt).Seconds()), 0)
	}
	writeJSON(w, http.StatusOK, &resp)
}

// handleShutdownCancel cancels a pending shutdown.
func (a *Admin) handleShutdownCancel(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, _ := a.shutdownStatus.Load().(*ShutdownStatus)
	if s == nil || !s.Active {
		writeError(w, http.StatusConflict, "no shutdown in progress")
		return
	}
	if s.Stage != "warning" && s.Stage != "countdown" {
		writeError(w, http.StatusConflict, "shutdown already under way")
		return
	}
	if a.shutdownCancel != nil {
		a.shutdownCancel()
		a.shutdownCancel = nil
	}
	a.shutdownStatus.Store(&ShutdownStatus{Active: false})
	a.controller.Broadcast("`2Shutdown cancelled.`` The server will keep running.")

	a.log.Info("shutdown cancelled")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// wait sleeps for d unless ctx ends first.
func (a *Admin) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		a.log.Info("shutdown sequence cancelled")
		return false
	case <-a.after(d):
		return true
	}
}

// runShutdownSequence warns every minute, counts down the last ten
// seconds, archives and stops the server.
func (a *Admin) runShutdownSequence(ctx context.Context, delaySec int, reason string) {
	ctrl := a.controller
	remaining := delaySec

	ctrl.Broadcast(fmt.Sprintf("`4Server shutting down in %s.`` Reason: %s", formatDuration(remaining), reason))

	for remaining > 60 {
		sleepSec := min(60, remaining-60)
		if !a.wait(ctx, time.Duration(sleepSec)*time.Second) {
			return
		}
		remaining -= sleepSec
		a.updateShutdownRemaining(remaining, "warning")
		ctrl.Broadcast(fmt.Sprintf("`4Server shutting down in %s.``", formatDuration(remaining)))
	}

	if remaining > 10 {
		if !a.wait(ctx, time.Duration(remaining-10)*time.Second) {
			return
		}
		remaining = 10
	}

	a.updateShutdownRemaining(remaining, "countdown")
	for remaining > 0 {
		ctrl.Broadcast(fmt.Sprintf("`4Shutdown in %d...``", remaining))
		if !a.wait(ctx, time.Second) {
			return
		}
		remaining--
		a.updateShutdownRemaining(remaining, "countdown")
	}

	a.updateShutdownRemaining(0, "archiving")
	if path, err := ctrl.CreateArchive(); err != nil {
		a.log.Warn("pre-shutdown archive failed", zap.Error(err))
	} else {
		a.log.Info("pre-shutdown archive created", zap.String("path", path))
	}

	a.updateShutdownRemaining(0, "disconnecting")
	ctrl.Broadcast("`4Server is going down now.`` See you soon!")
	ctrl.Shutdown()

	a.updateShutdownRemaining(0, "done")
	a.log.Info("graceful shutdown complete")
}

func (a *Admin) updateShutdownRemaining(remaining int, stage string) {
	s, _ := a.shutdownStatus.Load().(*ShutdownStatus)
	if s == nil {
		return
	}
	updated := *s
	updated.Remaining = remaining
	updated.Stage = stage
	a.shutdownStatus.Store(&updated)
}

// formatDuration returns a human-readable duration string.
func formatDuration(seconds int) string {
	if seconds >= 120 {
		return fmt.Sprintf("%d minutes", seconds/60)
	}
	if seconds >= 60 {
		return "1 minute"
	}
	return fmt.Sprintf("%d seconds", seconds)
}
