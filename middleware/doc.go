// Package middleware adapts a cmsauth.Service and the ratelimit adapters to
// net/http. Every handler here has the chi-compatible shape
// func(http.Handler) http.Handler.
//
//   - [RequireAuth] and [RequireRole] verify a bearer access token and put
//     the claims in the request context.
//   - [RequireAPIKey] authenticates the X-API-Key header, throttling repeated
//     failures per key.
//   - [IPRateLimit] applies the per-address request budget.
//   - [ClientIP] records the caller address for the service's audit trail.
//
// Authentication failures always produce the same 401 body, whatever the
// underlying error was. Decisions are made by the service and the limiters;
// this package only translates them to status codes.
package middleware
