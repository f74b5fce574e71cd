package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/cmsauth"
)

// RemoteIP returns the caller's address: the first X-Forwarded-For entry when
// trustForwarded is set and the header is present, otherwise the host part
// of r.RemoteAddr.
func RemoteIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP stores the caller's address in the request context with
// cmsauth.WithClientIP.
func ClientIP(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := cmsauth.WithClientIP(r.Context(), RemoteIP(r, opts.TrustForwardedFor))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
