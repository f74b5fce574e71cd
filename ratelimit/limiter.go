package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidConfig is returned by constructors for a zero limit or window.
var ErrInvalidConfig = errors.New("ratelimit: invalid config")

// Limiter counts requests per opaque key.
type Limiter interface {
	// Check counts one request against key. A blocked request is not counted.
	Check(ctx context.Context, key string) Decision
	// Clear forgets key.
	Clear(ctx context.Context, key string)
	// TrackedLen reports how many keys the limiter holds locally.
	TrackedLen() int
	Name() string
}

// Inspector is implemented by limiters that can report a decision without
// counting a request.
type Inspector interface {
	Peek(ctx context.Context, key string) Decision
}

// Config configures both fixed-window implementations.
type Config struct {
	// Name labels the limiter in logs and metrics.
	Name   string
	Limit  uint32
	Window time.Duration
	// MaxTracked bounds the number of in-memory keys. Zero means unbounded.
	MaxTracked int
	// IdleWindows is how many whole windows a key may stay unused before
	// the sweeper drops it. Zero means 2.
	IdleWindows int
	// Shards is rounded up to a power of two. Zero means 32.
	Shards int
	Now    func() time.Time
}

func (c Config) withDefaults() (Config, error) {
	if c.Limit == 0 || c.Window <= 0 {
		return c, ErrInvalidConfig
	}
	if c.MaxTracked < 0 || c.IdleWindows < 0 || c.Shards < 0 {
		return c, ErrInvalidConfig
	}
	if c.Name == "" {
		c.Name = "fixed_window"
	}
	if c.IdleWindows == 0 {
		c.IdleWindows = 2
	}
	if c.Shards == 0 {
		c.Shards = 32
	}
	n := 1
	for n < c.Shards {
		n <<= 1
	}
	c.Shards = n
	if c.Now == nil {
		c.Now = time.Now
	}
	return c, nil
}

// windowStart floors now to a multiple of window since the Unix epoch.
func windowStart(now time.Time, window time.Duration) time.Time {
	ns := now.UnixNano()
	return time.Unix(0, ns-ns%int64(window))
}
