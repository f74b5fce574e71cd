package logging

import (
	"time"

	"go.uber.org/zap"
)

func Subject(v string) zap.Field { return zap.String("subject", v) }

func KeyVersion(v uint32) zap.Field { return zap.Uint32("key_version", v) }

func SessionVersion(v uint64) zap.Field { return zap.Uint64("session_version", v) }

func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

func Limiter(name string) zap.Field { return zap.String("limiter", name) }

func LimitKey(v string) zap.Field { return zap.String("limit_key", v) }

func RetryAfter(d time.Duration) zap.Field { return zap.Duration("retry_after", d) }

func Reason(v string) zap.Field { return zap.String("reason", v) }
