package cmsauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth/internal/audit"
	"github.com/MrEthical07/cmsauth/internal/logging"
	"github.com/MrEthical07/cmsauth/keys"
	"github.com/MrEthical07/cmsauth/password"
	"github.com/MrEthical07/cmsauth/ratelimit"
	"github.com/MrEthical07/cmsauth/session"
	"github.com/MrEthical07/cmsauth/token"
	"github.com/MrEthical07/cmsauth/userstore"
)

// AuditSink receives security events emitted by the service.
type AuditSink = audit.Sink

// AuditEvent is one security event.
type AuditEvent = audit.Event

// Builder assembles a Service. A Builder can be built once.
type Builder struct {
	config       Config
	keys         *keys.Manager
	users        userstore.Store
	logger       *zap.Logger
	auditSink    AuditSink
	loginLimiter ratelimit.Limiter
	now          func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithKeys sets the key manager that signs and verifies tokens. Required.
func (b *Builder) WithKeys(m *keys.Manager) *Builder {
	b.keys = m
	return b
}

// WithUserStore sets the account store. Required.
func (b *Builder) WithUserStore(s userstore.Store) *Builder {
	b.users = s
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets where audit events go. Without it they are logged.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLoginLimiter replaces the in-memory login limiter, typically with a
// Redis-backed one shared across instances. It is ignored when login rate
// limiting is disabled in the config.
func (b *Builder) WithLoginLimiter(l ratelimit.Limiter) *Builder {
	b.loginLimiter = l
	return b
}

// WithClock overrides time.Now for every component the builder creates.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the service. Background
// maintenance starts immediately and stops on Service.Close.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.keys == nil {
		return nil, errors.New("key manager required")
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := logging.OrNop(b.logger)

	hasher, err := password.NewArgon2(cfg.Password.hasher())
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	codec, err := token.NewCodec(token.Config{
		Keys:     b.keys,
		Issuer:   cfg.Tokens.Issuer,
		Audience: cfg.Tokens.Audience,
		Leeway:   cfg.Tokens.Leeway(),
		Now:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:      cfg,
		keys:     b.keys,
		codec:    codec,
		sessions: session.NewStore(session.Config{Shards: cfg.Session.Shards, Now: now}),
		users:    b.users,
		hasher:   hasher,
		policy:   cfg.Password.policy(),
		metrics:  NewMetrics(cfg.Metrics),
		logger:   logger,
		now:      now,
		cancel:   cancel,
	}

	if cfg.Security.EnableLoginRateLimiting {
		if b.loginLimiter != nil {
			s.loginLimiter = b.loginLimiter
		} else {
			fw, err := ratelimit.NewFixedWindow(ratelimit.Config{
				Name:       "login",
				Limit:      cfg.Security.LoginMaxAttempts,
				Window:     cfg.Security.LoginWindow(),
				MaxTracked: cfg.Security.RateLimitMaxTracked,
				Now:        now,
			}, logger)
			if err != nil {
				cancel()
				return nil, fmt.Errorf("login limiter: %w", err)
			}
			fw.Start(ctx)
			s.loginLimiter = fw
			s.ownedLimiter = fw
		}
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NewZapSink(logger.Named("audit"))
	}
	s.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink, logger)

	if interval := cfg.Session.CleanupInterval(); interval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop(ctx, interval)
	}

	b.built = true
	return s, nil
}

// cloneConfig returns an independent copy of cfg. Config has no reference
// fields, so a value copy suffices.
func cloneConfig(cfg Config) Config {
	return cfg
}
