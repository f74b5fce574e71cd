package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/internal/logging"
	"github.com/MrEthical07/cmsauth/ratelimit"
	"github.com/MrEthical07/cmsauth/userstore"
)

// APIKeyHeader carries the raw API key.
const APIKeyHeader = "X-API-Key"

// APIKeyAuthenticator is the part of *cmsauth.Service RequireAPIKey needs.
type APIKeyAuthenticator interface {
	AuthenticateAPIKey(ctx context.Context, raw string) (cmsauth.APIKeyPrincipal, error)
}

type principalContextKey struct{}

// APIKeyPrincipalFromContext returns the principal stored by RequireAPIKey.
func APIKeyPrincipalFromContext(ctx context.Context) (cmsauth.APIKeyPrincipal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(cmsauth.APIKeyPrincipal)
	return p, ok
}

// RequireAPIKey authenticates the X-API-Key header. A key whose recent
// failures exceed the limiter's budget is refused with 429 before any store
// lookup; each failed verification is recorded, and a success clears the
// key's failure count. failures may be nil to disable throttling.
func RequireAPIKey(auth APIKeyAuthenticator, failures *ratelimit.APIKeyFailureLimiter, opts Options) func(http.Handler) http.Handler {
	log := opts.logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(APIKeyHeader)
			if auth == nil || !cmsauth.WellFormedAPIKey(raw) {
				opts.Metrics.Inc(cmsauth.MetricAPIKeyFailure)
				Unauthorized(w)
				return
			}

			ctx := r.Context()
			lookup := userstore.LookupHash(raw)
			if d := failures.Blocked(ctx, lookup); !d.Allowed() {
				opts.Metrics.Inc(cmsauth.MetricAPIKeyBlocked)
				opts.Metrics.Inc(cmsauth.MetricRateLimitHit)
				log.Debug("api key attempts rate limited", logging.RetryAfter(d.RetryAfter()))
				TooManyRequests(w, d)
				return
			}

			p, err := auth.AuthenticateAPIKey(ctx, raw)
			if err != nil {
				failures.RecordFailure(ctx, lookup)
				Unauthorized(w)
				return
			}
			failures.Reset(ctx, lookup)

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, principalContextKey{}, p)))
		})
	}
}
