package main

import (
	"context"
	"fmt"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth"
	"github.com/MrEthical07/cmsauth/internal/audit"
	"github.com/MrEthical07/cmsauth/keys"
	"github.com/MrEthical07/cmsauth/ratelimit"
	"github.com/MrEthical07/cmsauth/userstore"
)

type components struct {
	svc            *cmsauth.Service
	ipLimiter      *ratelimit.IPLimiter
	apiKeyFailures *ratelimit.APIKeyFailureLimiter
	closers        []func()
}

// close runs the registered closers in reverse order.
func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// assemble builds the service and its limiters from cfg. On error everything
// opened so far is closed.
func assemble(ctx context.Context, cfg cmsauth.Config, logger *zap.Logger, devRedis bool) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	users, err := openUsers(ctx, c, cfg, logger)
	if err != nil {
		return nil, err
	}
	mgr, err := openKeys(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	limiters, err := newLimiterFactory(ctx, c, cfg, logger, devRedis)
	if err != nil {
		return nil, err
	}
	ip, err := limiters.build(ratelimit.Config{
		Name:       "ip",
		Limit:      cfg.Security.RateLimitRequests,
		Window:     cfg.Security.RateLimitWindow(),
		MaxTracked: cfg.Security.RateLimitMaxTracked,
	})
	if err != nil {
		return nil, fmt.Errorf("ip limiter: %w", err)
	}
	c.ipLimiter = ratelimit.NewIPLimiter(ip)

	if !cfg.Security.APIKeyFailDisable {
		fails, err := limiters.build(ratelimit.Config{
			Name:       "api_key_fail",
			Limit:      cfg.Security.APIKeyFailThreshold,
			Window:     cfg.Security.APIKeyFailWindow(),
			MaxTracked: cfg.Security.APIKeyFailMaxTracked,
		})
		if err != nil {
			return nil, fmt.Errorf("api key failure limiter: %w", err)
		}
		c.apiKeyFailures = ratelimit.NewAPIKeyFailureLimiter(fails, false)
	}

	b := cmsauth.New().
		WithConfig(cfg).
		WithKeys(mgr).
		WithUserStore(users).
		WithLogger(logger).
		WithAuditSink(auditSink(cfg, logger))
	if cfg.Security.EnableLoginRateLimiting && limiters.redis != nil {
		login, err := limiters.build(ratelimit.Config{
			Name:   "login",
			Limit:  cfg.Security.LoginMaxAttempts,
			Window: cfg.Security.LoginWindow(),
		})
		if err != nil {
			return nil, fmt.Errorf("login limiter: %w", err)
		}
		b = b.WithLoginLimiter(login)
	}

	svc, err := b.Build()
	if err != nil {
		return nil, err
	}
	c.svc = svc
	c.closers = append(c.closers, func() { _ = svc.Close() })
	return c, nil
}

func openUsers(ctx context.Context, c *components, cfg cmsauth.Config, logger *zap.Logger) (userstore.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("database.url is empty, users are kept in memory")
		return userstore.NewMemory(), nil
	}
	store, pool, err := userstore.OpenPostgres(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, pool.Close)
	return store, nil
}

func openKeys(ctx context.Context, cfg cmsauth.Config, logger *zap.Logger) (*keys.Manager, error) {
	var store keys.Store
	if cfg.Keys.Dir == "" {
		logger.Warn("keys.dir is empty, signing keys are ephemeral")
		store = keys.NewMemoryStore()
	} else {
		fs, err := keys.NewFileStore(cfg.Keys.Dir, keys.FileStoreOptions{
			Identity: cfg.Keys.AgeIdentity,
			Backups:  cfg.Keys.Backups,
		})
		if err != nil {
			return nil, err
		}
		store = fs
	}
	return keys.Open(ctx, keys.Config{Store: store, Logger: logger})
}

func auditSink(cfg cmsauth.Config, logger *zap.Logger) cmsauth.AuditSink {
	sink := audit.MultiSink{audit.NewZapSink(logger)}
	if cfg.Sentry.DSN != "" {
		sink = append(sink, audit.NewSentrySink(nil))
	}
	return sink
}

// limiterFactory builds Redis-backed limiters when a client is configured and
// in-memory ones otherwise.
type limiterFactory struct {
	ctx    context.Context
	c      *components
	redis  redis.UniversalClient
	prefix string
	logger *zap.Logger
}

func newLimiterFactory(ctx context.Context, c *components, cfg cmsauth.Config, logger *zap.Logger, devRedis bool) (*limiterFactory, error) {
	f := &limiterFactory{ctx: ctx, c: c, prefix: cfg.Redis.Prefix, logger: logger}

	addr := cfg.Redis.Addr
	if addr == "" && devRedis {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		c.closers = append(c.closers, mr.Close)
		addr = mr.Addr()
		logger.Info("using embedded miniredis", zap.String("addr", addr))
	}
	if addr == "" {
		return f, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	c.closers = append(c.closers, func() { _ = client.Close() })
	f.redis = client
	return f, nil
}

func (f *limiterFactory) build(cfg ratelimit.Config) (ratelimit.InspectingLimiter, error) {
	if f.redis != nil {
		return ratelimit.NewRedisFixedWindow(f.redis, f.prefix+cfg.Name+":", cfg, f.logger)
	}
	fw, err := ratelimit.NewFixedWindow(cfg, f.logger)
	if err != nil {
		return nil, err
	}
	fw.Start(f.ctx)
	f.c.closers = append(f.c.closers, func() { _ = fw.Close() })
	return fw, nil
}
