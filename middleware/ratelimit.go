package middleware

import (
	"net/http"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/internal/logging"
	"github.com/MrEthical07/cmsauth/ratelimit"
)

// IPRateLimit counts every request against the caller's address and answers
// 429 with Retry-After once the window budget is spent.
func IPRateLimit(limiter *ratelimit.IPLimiter, opts Options) func(http.Handler) http.Handler {
	log := opts.logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := RemoteIP(r, opts.TrustForwardedFor)
			d := limiter.Allow(r.Context(), ip)
			if !d.Allowed() {
				opts.Metrics.Inc(cmsauth.MetricRateLimitHit)
				log.Debug("ip rate limited", logging.ClientIP(ip), logging.RetryAfter(d.RetryAfter()))
				TooManyRequests(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
