package cmsauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/cmsauth/password"
	"github.com/MrEthical07/cmsauth/role"
)

// Config holds every tunable of the service and its demo server. Durations
// are whole seconds so the same keys work in YAML and in the environment.
type Config struct {
	Tokens   TokenConfig    `yaml:"tokens"`
	Keys     KeysConfig     `yaml:"keys"`
	Security SecurityConfig `yaml:"security"`
	Password PasswordConfig `yaml:"password"`
	Session  SessionConfig  `yaml:"session"`
	Audit    AuditConfig    `yaml:"audit"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Sentry   SentryConfig   `yaml:"sentry"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type TokenConfig struct {
	AccessTTLSecs  int64  `yaml:"access_token_ttl_secs"`
	RefreshTTLSecs int64  `yaml:"refresh_token_ttl_secs"`
	Issuer         string `yaml:"issuer"`
	Audience       string `yaml:"audience"`
	// LeewaySecs lets tokens verify for that long past expires_at. Zero
	// means a token is expired from expires_at on.
	LeewaySecs int64 `yaml:"leeway_secs"`
}

func (c TokenConfig) AccessTTL() time.Duration  { return secs(c.AccessTTLSecs) }
func (c TokenConfig) RefreshTTL() time.Duration { return secs(c.RefreshTTLSecs) }
func (c TokenConfig) Leeway() time.Duration     { return secs(c.LeewaySecs) }

type KeysConfig struct {
	// Dir holds the manifest and private keys. Empty keeps keys in memory.
	Dir string `yaml:"dir"`
	// AgeIdentity, when set, seals private key files to this age X25519
	// identity ("AGE-SECRET-KEY-1...").
	AgeIdentity string `yaml:"age_identity"`
	Backups     int    `yaml:"backups"`
	RetainCount int    `yaml:"retain_count"`
	MinAgeSecs  int64  `yaml:"min_age_secs"`
}

func (c KeysConfig) MinAge() time.Duration { return secs(c.MinAgeSecs) }

type SecurityConfig struct {
	// Per-IP request budget applied by the HTTP middleware.
	RateLimitRequests   uint32 `yaml:"rate_limit_requests"`
	RateLimitWindowSecs int64  `yaml:"rate_limit_window"`
	RateLimitMaxTracked int    `yaml:"rate_limit_max_tracked"`

	EnableLoginRateLimiting bool   `yaml:"enable_login_rate_limiting"`
	LoginMaxAttempts        uint32 `yaml:"login_max_attempts"`
	LoginWindowSecs         int64  `yaml:"login_window_secs"`

	APIKeyFailThreshold  uint32 `yaml:"api_key_fail_threshold"`
	APIKeyFailWindowSecs int64  `yaml:"api_key_fail_window_secs"`
	APIKeyFailMaxTracked int    `yaml:"api_key_fail_max_tracked"`
	APIKeyFailDisable    bool   `yaml:"api_key_fail_disable"`

	// TrustForwardedFor makes the middleware take the client address from
	// X-Forwarded-For. Enable only behind a proxy that sets it.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

func (c SecurityConfig) RateLimitWindow() time.Duration  { return secs(c.RateLimitWindowSecs) }
func (c SecurityConfig) LoginWindow() time.Duration      { return secs(c.LoginWindowSecs) }
func (c SecurityConfig) APIKeyFailWindow() time.Duration { return secs(c.APIKeyFailWindowSecs) }

type PasswordConfig struct {
	Memory           uint32 `yaml:"memory_kb"`
	Time             uint32 `yaml:"time"`
	Parallelism      uint8  `yaml:"parallelism"`
	SaltLength       uint32 `yaml:"salt_length"`
	KeyLength        uint32 `yaml:"key_length"`
	MaxPasswordBytes int    `yaml:"max_password_bytes"`
	UpgradeOnLogin   bool   `yaml:"upgrade_on_login"`

	MinLength    int  `yaml:"min_length"`
	MaxLength    int  `yaml:"max_length"`
	RequireUpper bool `yaml:"require_upper"`
	RequireLower bool `yaml:"require_lower"`
	RequireDigit bool `yaml:"require_digit"`
}

func (c PasswordConfig) hasher() password.Config {
	return password.Config{
		Memory:           c.Memory,
		Time:             c.Time,
		Parallelism:      c.Parallelism,
		SaltLength:       c.SaltLength,
		KeyLength:        c.KeyLength,
		MaxPasswordBytes: c.MaxPasswordBytes,
	}
}

func (c PasswordConfig) policy() password.Policy {
	return password.Policy{
		MinLength:    c.MinLength,
		MaxLength:    c.MaxLength,
		RequireUpper: c.RequireUpper,
		RequireLower: c.RequireLower,
		RequireDigit: c.RequireDigit,
	}
}

type SessionConfig struct {
	Shards int `yaml:"shards"`
	// CleanupIntervalSecs is how often sessions idle past the refresh TTL
	// are dropped. Zero disables the background cleanup.
	CleanupIntervalSecs int64 `yaml:"cleanup_interval_secs"`
	// DefaultRole is assigned at registration.
	DefaultRole role.Role `yaml:"default_role"`
}

type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

type LoggingConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

type RedisConfig struct {
	// Addr selects Redis-backed rate limiting when non-empty.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type DatabaseConfig struct {
	// URL selects the Postgres user store when non-empty.
	URL string `yaml:"url"`
}

type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

func (c SessionConfig) CleanupInterval() time.Duration { return secs(c.CleanupIntervalSecs) }

type HTTPConfig struct {
	Addr                string `yaml:"addr"`
	ShutdownTimeoutSecs int64  `yaml:"shutdown_timeout_secs"`
	// SecureCookies marks the refresh token cookie Secure. Disable only for
	// plain-HTTP local development.
	SecureCookies bool `yaml:"secure_cookies"`
}

func (c HTTPConfig) ShutdownTimeout() time.Duration { return secs(c.ShutdownTimeoutSecs) }

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	policy := password.DefaultPolicy()
	return Config{
		Tokens: TokenConfig{
			AccessTTLSecs:  3600,
			RefreshTTLSecs: 86400,
			Issuer:         "cmsauth",
		},
		Keys: KeysConfig{
			Backups:     5,
			RetainCount: 3,
			MinAgeSecs:  86400,
		},
		Security: SecurityConfig{
			RateLimitRequests:       100,
			RateLimitWindowSecs:     60,
			RateLimitMaxTracked:     100_000,
			EnableLoginRateLimiting: true,
			LoginMaxAttempts:        5,
			LoginWindowSecs:         900,
			APIKeyFailThreshold:     10,
			APIKeyFailWindowSecs:    60,
			APIKeyFailMaxTracked:    5000,
		},
		Password: PasswordConfig{
			Memory:           pw.Memory,
			Time:             pw.Time,
			Parallelism:      pw.Parallelism,
			SaltLength:       pw.SaltLength,
			KeyLength:        pw.KeyLength,
			MaxPasswordBytes: 4 * policy.MaxLength,
			UpgradeOnLogin:   true,
			MinLength:        policy.MinLength,
			MaxLength:        policy.MaxLength,
			RequireUpper:     policy.RequireUpper,
			RequireLower:     policy.RequireLower,
			RequireDigit:     policy.RequireDigit,
		},
		Session: SessionConfig{
			Shards:              64,
			CleanupIntervalSecs: 600,
			DefaultRole:         role.Subscriber,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Env:   "production",
			Level: "info",
		},
		Redis: RedisConfig{
			Prefix: "cmsauth:rl:",
		},
		Sentry: SentryConfig{
			SampleRate: 1.0,
		},
		HTTP: HTTPConfig{
			Addr:                ":8080",
			ShutdownTimeoutSecs: 10,
			SecureCookies:       true,
		},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Tokens.AccessTTLSecs > 0, "tokens.access_token_ttl_secs must be > 0")
	check(c.Tokens.RefreshTTLSecs > 0, "tokens.refresh_token_ttl_secs must be > 0")
	check(c.Tokens.RefreshTTLSecs >= c.Tokens.AccessTTLSecs, "tokens.refresh_token_ttl_secs must be >= access_token_ttl_secs")
	check(c.Tokens.LeewaySecs >= 0 && c.Tokens.LeewaySecs <= 120, "tokens.leeway_secs must be within [0, 120]")

	check(c.Keys.RetainCount >= 0, "keys.retain_count must be >= 0")
	check(c.Keys.MinAgeSecs >= 0, "keys.min_age_secs must be >= 0")

	check(c.Security.RateLimitRequests > 0, "security.rate_limit_requests must be > 0")
	check(c.Security.RateLimitWindowSecs > 0, "security.rate_limit_window must be > 0")
	check(c.Security.RateLimitMaxTracked >= 0, "security.rate_limit_max_tracked must be >= 0")
	if c.Security.EnableLoginRateLimiting {
		check(c.Security.LoginMaxAttempts > 0, "security.login_max_attempts must be > 0")
		check(c.Security.LoginWindowSecs > 0, "security.login_window_secs must be > 0")
	}
	if !c.Security.APIKeyFailDisable {
		check(c.Security.APIKeyFailThreshold > 0, "security.api_key_fail_threshold must be > 0")
		check(c.Security.APIKeyFailWindowSecs > 0, "security.api_key_fail_window_secs must be > 0")
		check(c.Security.APIKeyFailMaxTracked >= 0, "security.api_key_fail_max_tracked must be >= 0")
	}

	check(c.Password.Memory >= 8*1024, "password.memory_kb must be >= 8192")
	check(c.Password.Time >= 1, "password.time must be >= 1")
	check(c.Password.Parallelism >= 1, "password.parallelism must be >= 1")
	check(c.Password.SaltLength >= 16, "password.salt_length must be >= 16")
	check(c.Password.KeyLength >= 16, "password.key_length must be >= 16")
	check(c.Password.MinLength >= 0 && c.Password.MaxLength >= 0, "password length bounds must be >= 0")
	check(c.Password.MaxLength == 0 || c.Password.MinLength <= c.Password.MaxLength, "password.min_length must be <= max_length")

	check(c.Session.Shards >= 0, "session.shards must be >= 0")
	check(c.Session.CleanupIntervalSecs >= 0, "session.cleanup_interval_secs must be >= 0")
	check(c.Session.DefaultRole.Valid(), "session.default_role is not a known role")
	check(c.Audit.BufferSize >= 0, "audit.buffer_size must be >= 0")
	check(c.Sentry.SampleRate >= 0 && c.Sentry.SampleRate <= 1, "sentry.sample_rate must be within [0, 1]")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func secs(n int64) time.Duration { return time.Duration(n) * time.Second }
