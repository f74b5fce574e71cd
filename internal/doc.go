// Package internal holds packages private to cmsauth.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher plus zap, Sentry and channel sinks)
//   - flows: pure-function orchestration of login, registration, refresh and logout
//   - httpapi: the chi router served by cmd/cmsauth-server
//   - logging: zap construction and shared field helpers
//   - security: the configuration posture report
package internal
