// Package httpapi is the HTTP edge of the authorization core: bearer
// authentication, the auth-requirement gate, thin JSON handlers over the
// domain services, and the operational endpoints.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"opsboard.org/internal/audit"
	"opsboard.org/internal/authz"
	"opsboard.org/internal/obs"
	"opsboard.org/internal/token"
)

// ReadyProbe pings the backing database for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the domain services into the HTTP layer.
type Config struct {
	ReadyProbe ReadyProbe
	Version    string
	Tokens     *token.Issuer
	Catalog    *authz.Catalog
	Resolver   *authz.Resolver
	Roles      *authz.RoleService
	UserRoles  *authz.UserRoleService
	Directory  *authz.Directory
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	tokens     *token.Issuer
	catalog    *authz.Catalog
	resolver   *authz.Resolver
	roles      *authz.RoleService
	userRoles  *authz.UserRoleService
	directory  *authz.Directory

	maxBodyBytes  int64
	rateBurst     int
	ratePerSecond int
}

// Option tweaks API construction.
type Option func(*API)

// WithMaxBodyBytes overrides the request body size limit.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithRateLimit overrides the per-IP rate limit.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst = burst
			a.ratePerSecond = perSecond
		}
	}
}

func New(cfg Config, opts ...Option) *API {
	a := &API{
		mux:           http.NewServeMux(),
		readyProbe:    cfg.ReadyProbe,
		version:       cfg.Version,
		tokens:        cfg.Tokens,
		catalog:       cfg.Catalog,
		resolver:      cfg.Resolver,
		roles:         cfg.Roles,
		userRoles:     cfg.UserRoles,
		directory:     cfg.Directory,
		maxBodyBytes:  1 << 20,
		rateBurst:     50,
		ratePerSecond: 25,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authorization surface
	a.mux.HandleFunc("/v1/authz/info", a.handleAuthzInfo)
	a.mux.HandleFunc("/v1/authz/role", a.handleRoleFromToken)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/user-roles", a.handleUserRoles)
	a.mux.HandleFunc("/v1/user-roles/invite", a.handleInviteUser)
	a.mux.HandleFunc("/v1/user-roles/accept-invitation", a.handleAcceptInvitation)
	a.mux.HandleFunc("/v1/user-roles/merchant-select", a.handleMerchantSelect)
	a.mux.HandleFunc("/v1/lineage/users", a.handleLineageUsers)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler: metrics on the outside,
// then the operational middleware chain, then bearer authentication.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- operational handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "opsboard-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "opsboard-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
