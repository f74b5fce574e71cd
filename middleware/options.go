package middleware

import (
	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/internal/logging"
)

// Options is shared by the middleware constructors. The zero value is usable.
type Options struct {
	Logger *zap.Logger
	// Metrics receives rate limit and API key counters. Typically
	// Service.Metrics().
	Metrics *cmsauth.Metrics
	// TrustForwardedFor takes the client address from X-Forwarded-For.
	TrustForwardedFor bool
}

func (o Options) logger() *zap.Logger {
	return logging.OrNop(o.Logger)
}
