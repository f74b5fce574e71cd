// Package httpapi exposes a cmsauth.Service over JSON HTTP using chi.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/internal/logging"
	"github.com/MrEthical07/cmsauth/middleware"
	"github.com/MrEthical07/cmsauth/ratelimit"
	"github.com/MrEthical07/cmsauth/role"
)

const refreshCookie = "refresh_token"

// Deps is everything the router needs. Only Service is required.
type Deps struct {
	Service        *cmsauth.Service
	IPLimiter      *ratelimit.IPLimiter
	APIKeyFailures *ratelimit.APIKeyFailureLimiter
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler    http.Handler
	Logger            *zap.Logger
	TrustForwardedFor bool
	// SecureCookies marks the refresh cookie Secure.
	SecureCookies bool
	// RequestTimeout bounds each request. Zero means 15s.
	RequestTimeout time.Duration
}

type api struct {
	svc    *cmsauth.Service
	log    *zap.Logger
	secure bool
}

// NewRouter builds the route tree:
//
//	GET  /healthz
//	GET  /metrics
//	POST /auth/register
//	POST /auth/login
//	POST /auth/refresh
//	POST /auth/logout          bearer
//	GET  /auth/me              bearer
//	POST /auth/attenuate       bearer
//	POST /api-keys             bearer, author or above
//	GET  /api/whoami           X-API-Key
//	POST /admin/keys/rotate    bearer, super_admin
//	POST /admin/keys/prune     bearer, super_admin
//	GET  /admin/security       bearer, super_admin
func NewRouter(d Deps) chi.Router {
	log := logging.OrNop(d.Logger)
	a := &api{svc: d.Service, log: log, secure: d.SecureCookies}
	opts := middleware.Options{
		Logger:            log,
		Metrics:           d.Service.Metrics(),
		TrustForwardedFor: d.TrustForwardedFor,
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.ClientIP(opts))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.IPRateLimit(d.IPLimiter, opts))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", a.register)
			r.Post("/login", a.login)
			r.Post("/refresh", a.refresh)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAuth(d.Service, opts))
				r.Post("/logout", a.logout)
				r.Get("/me", a.me)
				r.Post("/attenuate", a.attenuate)
			})
		})

		r.With(middleware.RequireRole(d.Service, role.Author, opts)).Post("/api-keys", a.createAPIKey)
		r.With(middleware.RequireAPIKey(d.Service, d.APIKeyFailures, opts)).Get("/api/whoami", a.whoami)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(d.Service, role.SuperAdmin, opts))
			r.Post("/keys/rotate", a.rotateKeys)
			r.Post("/keys/prune", a.pruneKeys)
			r.Get("/security", a.securityReport)
		})
	})

	return r
}
