package audit

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MrEthical07/cmsauth/internal/logging"
)

// ZapSink logs events through a structured logger, at warn level for
// warning and critical severities and info otherwise.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(l *zap.Logger) *ZapSink {
	return &ZapSink{logger: logging.OrNop(l).Named("audit")}
}

func (s *ZapSink) Emit(_ context.Context, e Event) {
	lvl := zapcore.InfoLevel
	if e.Severity >= SeverityWarning {
		lvl = zapcore.WarnLevel
	}
	ce := s.logger.Check(lvl, string(e.Type))
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, 8+len(e.Metadata))
	fields = append(fields,
		zap.Time("at", e.Timestamp),
		zap.Stringer("severity", e.Severity),
		zap.Bool("success", e.Success),
	)
	if e.Subject != "" {
		fields = append(fields, logging.Subject(e.Subject))
	}
	if e.SessionVersion != 0 {
		fields = append(fields, logging.SessionVersion(e.SessionVersion))
	}
	if e.KeyVersion != 0 {
		fields = append(fields, logging.KeyVersion(e.KeyVersion))
	}
	if e.IP != "" {
		fields = append(fields, logging.ClientIP(e.IP))
	}
	if e.Error != "" {
		fields = append(fields, logging.Reason(e.Error))
	}
	for k, v := range e.Metadata {
		fields = append(fields, zap.String(k, v))
	}
	ce.Write(fields...)
}
