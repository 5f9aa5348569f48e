package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ccgw/cc-gw/config"
	"github.com/ccgw/cc-gw/internal/keys"
	"github.com/ccgw/cc-gw/internal/store"
	"github.com/ccgw/cc-gw/internal/websession"
	"github.com/ccgw/cc-gw/providers"
	"github.com/ccgw/cc-gw/types"
)

// Admin serves the management API under /api plus /healthz.
type Admin struct {
	config   *config.Store
	store    *store.Store
	keys     *keys.Registry
	sessions *websession.Manager
	conns    *providers.Registry
	logger   *zap.Logger

	version   string
	startedAt time.Time
	tlsActive bool
	// active reports in-flight model requests; wired to Proxy.ActiveRequests.
	active func() int64
}

// NewAdmin wires the management handler dependencies.
func NewAdmin(cfg *config.Store, st *store.Store, kr *keys.Registry, sm *websession.Manager, conns *providers.Registry, version string, tlsActive bool, active func() int64, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	if active == nil {
		active = func() int64 { return 0 }
	}
	return &Admin{
		config:    cfg,
		store:     st,
		keys:      kr,
		sessions:  sm,
		conns:     conns,
		logger:    logger.With(zap.String("component", "admin")),
		version:   version,
		startedAt: time.Now(),
		tlsActive: tlsActive,
		active:    active,
	}
}

// RequireSession gates management routes behind a valid admin session when
// auth is enabled. /api/auth/* stays reachable so login works.
func (a *Admin) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Get().Auth.Enabled || strings.HasPrefix(r.URL.Path, "/api/auth/") {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := a.sessions.Validate(a.sessionToken(r)); !ok {
			writeError(w, a.logger, types.NewError(types.ErrAuthRequired, "admin session required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Admin) sessionToken(r *http.Request) string {
	c, err := r.Cookie(websession.CookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (a *Admin) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     websession.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   a.tlsActive,
		MaxAge:   maxAge,
	})
}

// Login verifies admin credentials and sets the session cookie.
// POST /api/auth/login
func (a *Admin) Login(w http.ResponseWriter, r *http.Request) {
	auth := a.config.Get().Auth
	if !auth.Enabled {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "authenticated": true})
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}

	token, err := a.sessions.Login(req.Username, req.Password, auth.Username, auth.PasswordHash, auth.PasswordSalt)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	a.setSessionCookie(w, token, int(websession.TTL.Seconds()))
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":       true,
		"authenticated": true,
		"username":      req.Username,
	})
}

// Logout revokes the current session and clears the cookie.
// POST /api/auth/logout
func (a *Admin) Logout(w http.ResponseWriter, r *http.Request) {
	if token := a.sessionToken(r); token != "" {
		a.sessions.Logout(token)
	}
	a.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
}

// Session reports whether the caller holds a live session.
// GET /api/auth/session
func (a *Admin) Session(w http.ResponseWriter, r *http.Request) {
	auth := a.config.Get().Auth
	if !auth.Enabled {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "authenticated": true})
		return
	}
	username, ok := a.sessions.Validate(a.sessionToken(r))
	resp := map[string]any{"enabled": true, "authenticated": ok}
	if ok {
		resp["username"] = username
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health is the liveness endpoint.
// GET /healthz
func (a *Admin) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        a.version,
		"uptimeMs":       time.Since(a.startedAt).Milliseconds(),
		"providers":      a.conns.Count(),
		"activeRequests": a.active(),
	})
}

// Status is the management dashboard summary.
// GET /api/status
func (a *Admin) Status(w http.ResponseWriter, r *http.Request) {
	cfg := a.config.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":         a.version,
		"startedAt":       a.startedAt.UnixMilli(),
		"uptimeMs":        time.Since(a.startedAt).Milliseconds(),
		"listen":          cfg.Listen,
		"tls":             a.tlsActive,
		"providers":       a.conns.Count(),
		"activeRequests":  a.active(),
		"dbQueueDepth":    a.store.QueueDepth(),
		"persistPayloads": cfg.PersistPayloads,
		"authEnabled":     cfg.Auth.Enabled,
	})
}
