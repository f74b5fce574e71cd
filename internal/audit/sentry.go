package audit

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// SentrySink reports events at or above MinSeverity to Sentry. Subjects are
// sent as a tag, never as a Sentry user, so no PII leaves the process.
type SentrySink struct {
	hub         *sentry.Hub
	MinSeverity Severity
}

// NewSentrySink uses hub, or the current global hub when hub is nil.
func NewSentrySink(hub *sentry.Hub) *SentrySink {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentrySink{hub: hub, MinSeverity: SeverityWarning}
}

func (s *SentrySink) Emit(_ context.Context, e Event) {
	if s == nil || s.hub == nil || e.Severity < s.MinSeverity {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(e.Severity))
		scope.SetTag("event_type", string(e.Type))
		if e.Subject != "" {
			scope.SetTag("subject", e.Subject)
		}
		detail := sentry.Context{"success": e.Success}
		if e.SessionVersion != 0 {
			detail["session_version"] = e.SessionVersion
		}
		if e.KeyVersion != 0 {
			detail["key_version"] = e.KeyVersion
		}
		if e.IP != "" {
			detail["ip"] = e.IP
		}
		if e.Error != "" {
			detail["error"] = e.Error
		}
		for k, v := range e.Metadata {
			detail[k] = v
		}
		scope.SetContext("audit", detail)
		s.hub.CaptureMessage(string(e.Type))
	})
}

func sentryLevel(s Severity) sentry.Level {
	switch s {
	case SeverityCritical:
		return sentry.LevelError
	case SeverityWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
