// Package httpapi is the HTTP surface of the service: login, MFA lifecycle,
// RBAC administration and the permission gate in front of protected routes.
//
// The login endpoint accepts a provider assertion that has already passed
// the OAuth handshake elsewhere. Its caller is the OAuth callback service,
// not end users; deployments expose it on an internal network or set
// Options.LoginSecret so the caller must prove itself per request.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"idgate.org/internal/identity"
	"idgate.org/internal/mfa"
	"idgate.org/internal/obs"
	"idgate.org/internal/rbac"
	"idgate.org/internal/token"
)

// ReadyProbe pings the backing database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the tunables the API layer needs from config.
type Options struct {
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int

	// LoginSecret, when set, must be presented by the login caller in the
	// X-Login-Secret header. The login endpoint trusts the caller to have
	// completed the provider handshake, so it should only be reachable by
	// the OAuth callback service; the shared secret enforces that when the
	// two are not isolated at the network level.
	LoginSecret string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	rbac       *rbac.Service
	resolver   *identity.Resolver
	mfa        *mfa.Service
	tokens     *token.Service
	readyProbe ReadyProbe
	version    string
	opts       Options
}

// New wires the route table.
func New(rbacSvc *rbac.Service, resolver *identity.Resolver, mfaSvc *mfa.Service,
	tokens *token.Service, rp ReadyProbe, version string, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 20
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 40
	}
	a := &API{
		mux:        http.NewServeMux(),
		rbac:       rbacSvc,
		resolver:   resolver,
		mfa:        mfaSvc,
		tokens:     tokens,
		readyProbe: rp,
		version:    version,
		opts:       opts,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// login and the login-time MFA step, both pre-token
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/mfa/verify", a.handleLoginMFAVerify)

	// per-user surface
	a.mux.HandleFunc("/v1/user/profile", a.handleProfile)
	a.mux.Handle("/v1/user/dashboard", a.guard("dashboard", rbac.OpRead, http.HandlerFunc(a.handleDashboard)))
	a.mux.HandleFunc("/v1/user/mfa/setup", a.handleMFASetup)
	a.mux.HandleFunc("/v1/user/mfa/verify", a.handleMFAEnable)
	a.mux.HandleFunc("/v1/user/mfa/disable", a.handleMFADisable)
	a.mux.HandleFunc("/v1/user/mfa/status", a.handleMFAStatus)

	// RBAC administration
	a.mux.Handle("/v1/rbac/roles", a.adminOnly(http.HandlerFunc(a.handleRoles)))
	a.mux.Handle("/v1/rbac/roles/", a.adminOnly(http.HandlerFunc(a.handleRoleResource)))
	a.mux.Handle("/v1/rbac/resources", a.adminOnly(http.HandlerFunc(a.handleResources)))
	a.mux.Handle("/v1/rbac/resources/", a.adminOnly(http.HandlerFunc(a.handleResourceResource)))
	a.mux.Handle("/v1/rbac/permissions", a.adminOnly(http.HandlerFunc(a.handlePermissions)))
	a.mux.Handle("/v1/rbac/permissions/", a.adminOnly(http.HandlerFunc(a.handlePermissionResource)))
	a.mux.HandleFunc("/v1/rbac/operations", a.handleOperations)

	// account administration
	a.mux.Handle("/v1/admin/accounts", a.adminOnly(http.HandlerFunc(a.handleAccounts)))
	a.mux.Handle("/v1/admin/accounts/", a.adminOnly(http.HandlerFunc(a.handleAccountResource)))
	a.mux.Handle("/v1/admin/stats", a.adminOnly(http.HandlerFunc(a.handleStats)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitRPS)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "idgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "idgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
