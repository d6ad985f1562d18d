package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminPassFile    = "admin_pass.hash" // stored in data dir
	sessionCookieKey = "novaserver_admin"
	sessionMaxAge    = 24 * time.Hour
	minPasswordLen   = 10
)

// adminAuth manages admin API authentication. Without a configured or
// stored password a random one is generated and logged once.
type adminAuth struct {
	mu        sync.RWMutex
	dataDir   string
	envPass   string
	generated string
	sessions  map[string]time.Time
}

func newAdminAuth(dataDir, password string, log *zap.Logger) *adminAuth {
	aa := &adminAuth{
		dataDir:  dataDir,
		envPass:  password,
		sessions: make(map[string]time.Time),
	}
	if aa.envPass == "" && !aa.hasStoredHash() {
		aa.generated = randomToken(12)
		log.Warn("no admin password configured, generated one for this run", zap.String("password", aa.generated))
	}
	return aa
}

func randomToken(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (aa *adminAuth) hashPath() string {
	if aa.dataDir == "" {
		return ""
	}
	return filepath.Join(aa.dataDir, adminPassFile)
}

func (aa *adminAuth) hasStoredHash() bool {
	p := aa.hashPath()
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

// checkPassword verifies a password.
// Priority: configured password > stored hash file > generated password.
func (aa *adminAuth) checkPassword(password string) bool {
	aa.mu.RLock()
	defer aa.mu.RUnlock()

	if aa.envPass != "" {
		return subtle.ConstantTimeCompare([]byte(password), []byte(aa.envPass)) == 1
	}
	if p := aa.hashPath(); p != "" {
		if hash, err := os.ReadFile(p); err == nil {
			return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
		}
	}
	return aa.generated != "" && subtle.ConstantTimeCompare([]byte(password), []byte(aa.generated)) == 1
}

// changePassword stores a new bcrypt hash in the data directory.
func (aa *adminAuth) changePassword(newPassword string) error {
	aa.mu.Lock()
	defer aa.mu.Unlock()

	p := aa.hashPath()
	if p == "" {
		return errNoDataDir
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, hash, 0o600); err != nil {
		return err
	}
	aa.generated = ""
	return nil
}

// createSession generates a new session token.
func (aa *adminAuth) createSession() string {
	aa.mu.Lock()
	defer aa.mu.Unlock()

	now := time.Now()
	for tok, exp := range aa.sessions {
		if now.After(exp) {
			delete(aa.sessions, tok)
		}
	}
	token := randomToken(32)
	aa.sessions[token] = now.Add(sessionMaxAge)
	return token
}

func (aa *adminAuth) validateSession(token string) bool {
	aa.mu.RLock()
	defer aa.mu.RUnlock()
	exp, ok := aa.sessions[token]
	return ok && time.Now().Before(exp)
}

func (aa *adminAuth) invalidateSession(token string) {
	aa.mu.Lock()
	defer aa.mu.Unlock()
	delete(aa.sessions, token)
}

// isGenerated reports whether the per-run generated password is in use.
func (aa *adminAuth) isGenerated() bool {
	aa.mu.RLock()
	defer aa.mu.RUnlock()
	return aa.generated != ""
}

// requestToken returns the session token from the cookie or bearer header.
func requestToken(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieKey); err == nil {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// authMiddleware requires a valid session on everything but /api/auth/.
func (a *Admin) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/auth/") || a.auth.validateSession(requestToken(r)) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "authentication required")
	})
}

// handleAuthLogin handles POST /api/auth/login
func (a *Admin) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !a.auth.checkPassword(req.Password) {
		a.log.Warn("failed login attempt", zap.String("addr", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token := a.auth.createSession()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieKey,
		Value:    token,
		Path:     "/admin/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(sessionMaxAge.Seconds()),
	})
	a.log.Info("login", zap.String("addr", r.RemoteAddr))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"token":              token,
		"generated_password": a.auth.isGenerated(),
	})
}

// handleAuthLogout handles POST /api/auth/logout
func (a *Admin) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	if tok := requestToken(r); tok != "" {
		a.auth.invalidateSession(tok)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieKey,
		Value:    "",
		Path:     "/admin/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleAuthChangePassword handles POST /api/auth/change-password
func (a *Admin) handleAuthChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Current string `json:"current"`
		New     string `json:"new"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if !a.auth.checkPassword(req.Current) {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}
	if len(req.New) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "new password is too short")
		return
	}
	if err := a.auth.changePassword(req.New); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save password: "+err.Error())
		return
	}
	a.log.Info("password changed", zap.String("addr", r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]string{"status": "changed"})
}

// handleAuthStatus handles GET /api/auth/status
func (a *Admin) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated":      a.auth.validateSession(requestToken(r)),
		"generated_password": a.auth.isGenerated(),
	})
}
