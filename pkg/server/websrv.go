package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nova-gt/novaserver/pkg/account"
	"github.com/nova-gt/novaserver/pkg/boltstore"
)

// Version is the novaserver version string.
// Override at build time with: go build -ldflags "-X github.com/nova-gt/novaserver/pkg/server.Version=0.2.0"
var Version = "0.1.0"

// WebAccounts is the account surface exposed over HTTP.
type WebAccounts interface {
	Login(ctx context.Context, name, password string) (string, error)
	Register(ctx context.Context, name, password, email string) (*boltstore.Account, error)
}

// WebServer serves the client bootstrap endpoint, account API, WebSocket
// transport, health and metrics alongside the ENet listener.
type WebServer struct {
	cfg      WebConfig
	enet     ENetConf
	srv      *Server
	accounts WebAccounts
	metrics  *Metrics
	log      *zap.Logger

	httpSrv *http.Server
	mux     *http.ServeMux
	rl      *rateLimiter
}

// NewWebServer creates a web server. ws is the WebSocket transport handler
// and may be nil, as may metrics.
func NewWebServer(cfg WebConfig, enet ENetConf, srv *Server, accounts WebAccounts, ws http.Handler, metrics *Metrics, log *zap.Logger) *WebServer {
	if log == nil {
		log = zap.NewNop()
	}
	web := &WebServer{
		cfg:      cfg,
		enet:     enet,
		srv:      srv,
		accounts: accounts,
		metrics:  metrics,
		log:      log.Named("web"),
		mux:      http.NewServeMux(),
		rl:       newRateLimiter(cfg.RateLimit),
	}
	web.registerRoutes(ws)
	return web
}

// Mount serves h for every path under prefix, which must end in a slash.
func (web *WebServer) Mount(prefix string, h http.Handler) {
	web.mux.Handle(prefix, h)
}

// Handler returns the root handler with middleware applied.
func (web *WebServer) Handler() http.Handler { return web.httpSrv.Handler }

// registerRoutes sets up all HTTP routes.
func (web *WebServer) registerRoutes(ws http.Handler) {
	// Apply global middleware: CORS -> rate limit
	handler := http.Handler(web.mux)
	handler = rateLimitMiddleware(web.rl, handler)
	handler = corsMiddleware(web.cfg.CORSOrigins, handler)

	web.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", web.cfg.Host, web.cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	web.mux.HandleFunc("POST /growtopia/server_data.php", web.handleServerData)
	web.mux.HandleFunc("POST /api/v1/auth/login", web.handleAuthLogin)
	web.mux.HandleFunc("POST /api/v1/auth/register", web.handleAuthRegister)
	web.mux.HandleFunc("GET /health", web.handleHealth)
	if ws != nil {
		web.mux.Handle("GET /ws", ws)
	}
	if web.metrics != nil {
		web.mux.Handle("GET /metrics", web.metrics.Handler())
	}
}

// Start begins listening. Uses HTTPS when TLS certs are available,
// falls back to plain HTTP otherwise (development mode).
func (web *WebServer) Start(ctx context.Context) error {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				web.rl.cleanup(10 * time.Minute)
			}
		}
	}()

	cfg := web.cfg
	hasTLS := cfg.Domain != "" || (cfg.CertFile != "" && cfg.KeyFile != "") || cfg.CertDir != ""
	if hasTLS {
		result, err := SetupTLS(cfg.Domain, cfg.CertFile, cfg.KeyFile, cfg.CertDir, web.log)
		if err != nil {
			web.log.Warn("TLS setup failed, falling back to HTTP", zap.Error(err))
		} else {
			web.httpSrv.TLSConfig = result.Config

			// Let's Encrypt needs :80 for ACME challenges.
			if result.AutocertMgr != nil {
				go func() {
					acme := &http.Server{
						Addr:              ":80",
						Handler:           result.AutocertMgr.HTTPHandler(nil),
						ReadHeaderTimeout: 10 * time.Second,
					}
					web.log.Info("ACME HTTP challenge listener on :80")
					if err := acme.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						web.log.Warn("ACME HTTP listener", zap.Error(err))
					}
				}()
			}

			web.log.Info("listening (HTTPS)", zap.String("addr", web.httpSrv.Addr))
			err = web.httpSrv.ListenAndServeTLS("", "")
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	}

	web.log.Info("listening (HTTP)", zap.String("addr", web.httpSrv.Addr))
	err := web.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully shuts down the web server.
func (web *WebServer) Stop(ctx context.Context) error {
	return web.httpSrv.Shutdown(ctx)
}

// handleServerData tells the client where the ENet listener is.
func (web *WebServer) handleServerData(w http.ResponseWriter, _ *http.Request) {
	var b strings.Builder
	fmt.Fprintf(&b, "server|%s\n", web.enet.PublicHost)
	fmt.Fprintf(&b, "port|%d\n", web.enet.Port)
	b.WriteString("type|1\n")
	b.WriteString("#maint|Server is under maintenance.\n")
	fmt.Fprintf(&b, "beta_server|%s\n", web.enet.PublicHost)
	fmt.Fprintf(&b, "beta_port|%d\n", web.enet.Port)
	b.WriteString("beta_type|1\n")
	b.WriteString("meta|novaserver\n")
	b.WriteString("RTENDMARKERBS1001\n")

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(b.String()))
}

func (web *WebServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := web.accounts.Login(r.Context(), req.Name, req.Password)
	switch {
	case errors.Is(err, account.ErrBanned):
		http.Error(w, `{"error":"account banned"}`, http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (web *WebServer) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	a, err := web.accounts.Register(r.Context(), req.Name, req.Password, req.Email)
	switch {
	case errors.Is(err, account.ErrNameTaken):
		http.Error(w, `{"error":"name already registered"}`, http.StatusConflict)
		return
	case errors.Is(err, account.ErrInvalidName), errors.Is(err, account.ErrPasswordTooShort):
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	case err != nil:
		web.log.Error("register", zap.String("name", req.Name), zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"id": a.ID, "name": a.Name})
}

func (web *WebServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": Version,
	}
	if web.srv != nil {
		body["uptime_seconds"] = web.srv.Uptime().Seconds()
		body["sessions"] = web.srv.Sessions().Count()
		if web.srv.worlds != nil {
			body["worlds"] = web.srv.worlds.Count()
		}
		if web.srv.items != nil {
			info := web.srv.items.Info()
			body["items"] = map[string]any{"count": info.Count, "hash": info.Hash, "version": info.Version}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}
