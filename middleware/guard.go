package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/role"
)

// Authenticator is the part of *cmsauth.Service the guards need.
type Authenticator interface {
	Verify(ctx context.Context, accessToken string) (cmsauth.Claims, error)
	Authorize(claims cmsauth.Claims, required role.Role) error
}

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by RequireAuth.
func ClaimsFromContext(ctx context.Context) (cmsauth.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(cmsauth.Claims)
	return c, ok
}

// RequireAuth rejects requests without a valid bearer access token.
func RequireAuth(auth Authenticator, opts Options) func(http.Handler) http.Handler {
	return guard(auth, 0, false, opts)
}

// RequireRole is RequireAuth plus an authorization check against required.
// Authenticated callers without the role get 403.
func RequireRole(auth Authenticator, required role.Role, opts Options) func(http.Handler) http.Handler {
	return guard(auth, required, true, opts)
}

func guard(auth Authenticator, required role.Role, checkRole bool, opts Options) func(http.Handler) http.Handler {
	log := opts.logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				Unauthorized(w)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				Unauthorized(w)
				return
			}

			claims, err := auth.Verify(r.Context(), token)
			if err != nil {
				log.Debug("bearer token rejected", zap.Error(err))
				Unauthorized(w)
				return
			}
			if checkRole {
				if err := auth.Authorize(claims, required); err != nil {
					forbidden(w)
					return
				}
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
