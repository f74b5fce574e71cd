package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth/internal/logging"
)

// checkScript counts one request unless the window is already exhausted.
// It returns -1 when blocked and the new count otherwise.
var checkScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return -1
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return current
`)

// RedisFixedWindow is a fixed-window limiter whose counters live in Redis.
// Each window gets its own key, so a clock step never revives an old count.
// Backend errors fail open and are logged at warn level.
type RedisFixedWindow struct {
	client redis.UniversalClient
	cfg    Config
	prefix string
	logger *zap.Logger
}

// NewRedisFixedWindow returns a limiter storing counters under prefix.
// MaxTracked, IdleWindows and Shards are ignored; Redis expiry bounds memory.
func NewRedisFixedWindow(client redis.UniversalClient, prefix string, cfg Config, logger *zap.Logger) (*RedisFixedWindow, error) {
	if client == nil {
		return nil, errors.New("ratelimit: nil redis client")
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "rl:" + cfg.Name + ":"
	}
	return &RedisFixedWindow{
		client: client,
		cfg:    cfg,
		prefix: prefix,
		logger: logging.OrNop(logger).With(logging.Limiter(cfg.Name)),
	}, nil
}

func (r *RedisFixedWindow) Name() string { return r.cfg.Name }

func (r *RedisFixedWindow) windowKey(key string, start time.Time) string {
	return r.prefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// Check implements [Limiter].
func (r *RedisFixedWindow) Check(ctx context.Context, key string) Decision {
	now := r.cfg.Now()
	start := windowStart(now, r.cfg.Window)
	left := start.Add(r.cfg.Window).Sub(now)
	ttl := left.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}

	n, err := checkScript.Run(ctx, r.client, []string{r.windowKey(key, start)}, r.cfg.Limit, ttl).Int64()
	if err != nil {
		r.logger.Warn("rate limit backend unavailable, allowing request", logging.LimitKey(key), zap.Error(err))
		return Allow(r.cfg.Limit)
	}
	if n < 0 {
		return Block(left)
	}
	if n > int64(r.cfg.Limit) {
		return Allow(0)
	}
	return Allow(r.cfg.Limit - uint32(n))
}

// Peek implements [Inspector].
func (r *RedisFixedWindow) Peek(ctx context.Context, key string) Decision {
	now := r.cfg.Now()
	start := windowStart(now, r.cfg.Window)

	n, err := r.client.Get(ctx, r.windowKey(key, start)).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("rate limit backend unavailable, allowing request", logging.LimitKey(key), zap.Error(err))
		}
		return Allow(r.cfg.Limit)
	}
	if n >= int64(r.cfg.Limit) {
		return Block(start.Add(r.cfg.Window).Sub(now))
	}
	return Allow(r.cfg.Limit - uint32(n))
}

// Clear implements [Limiter]. Only the current window's counter is removed;
// older windows are already expiring.
func (r *RedisFixedWindow) Clear(ctx context.Context, key string) {
	start := windowStart(r.cfg.Now(), r.cfg.Window)
	if err := r.client.Del(ctx, r.windowKey(key, start)).Err(); err != nil {
		r.logger.Warn("rate limit clear failed", logging.LimitKey(key), zap.Error(err))
	}
}

// TrackedLen always reports zero: counters are held by Redis, not locally.
func (r *RedisFixedWindow) TrackedLen() int { return 0 }
