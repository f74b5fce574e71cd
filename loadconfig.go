package cmsauth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/MrEthical07/cmsauth/role"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfig builds a Config from defaults, then the YAML file at path (if
// path is non-empty and the file exists), then a .env file in the working
// directory, then the process environment. The result is validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// Variables already in the environment win over .env entries.
	_ = godotenv.Load(".env")

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(c *Config) error {
	c.Tokens.AccessTTLSecs = getEnvInt64("AUTH_ACCESS_TOKEN_TTL_SECS", c.Tokens.AccessTTLSecs)
	c.Tokens.RefreshTTLSecs = getEnvInt64("AUTH_REFRESH_TOKEN_TTL_SECS", c.Tokens.RefreshTTLSecs)
	c.Tokens.Issuer = getEnvStr("CMSAUTH_TOKEN_ISSUER", c.Tokens.Issuer)
	c.Tokens.Audience = getEnvStr("CMSAUTH_TOKEN_AUDIENCE", c.Tokens.Audience)
	c.Tokens.LeewaySecs = getEnvInt64("CMSAUTH_TOKEN_LEEWAY_SECS", c.Tokens.LeewaySecs)

	c.Keys.Dir = getEnvStr("CMSAUTH_KEYS_DIR", c.Keys.Dir)
	c.Keys.AgeIdentity = getEnvStr("CMSAUTH_KEYS_AGE_IDENTITY", c.Keys.AgeIdentity)
	c.Keys.Backups = getEnvInt("CMSAUTH_KEYS_BACKUPS", c.Keys.Backups)
	c.Keys.RetainCount = getEnvInt("CMSAUTH_KEYS_RETAIN_COUNT", c.Keys.RetainCount)
	c.Keys.MinAgeSecs = getEnvInt64("CMSAUTH_KEYS_MIN_AGE_SECS", c.Keys.MinAgeSecs)

	c.Security.RateLimitRequests = getEnvUint32("CMSAUTH_RATE_LIMIT_REQUESTS", c.Security.RateLimitRequests)
	c.Security.RateLimitWindowSecs = getEnvInt64("CMSAUTH_RATE_LIMIT_WINDOW", c.Security.RateLimitWindowSecs)
	c.Security.RateLimitMaxTracked = getEnvInt("CMSAUTH_RATE_LIMIT_MAX_TRACKED", c.Security.RateLimitMaxTracked)
	c.Security.EnableLoginRateLimiting = getEnvBool("CMSAUTH_ENABLE_LOGIN_RATE_LIMITING", c.Security.EnableLoginRateLimiting)
	c.Security.LoginMaxAttempts = getEnvUint32("CMSAUTH_LOGIN_MAX_ATTEMPTS", c.Security.LoginMaxAttempts)
	c.Security.LoginWindowSecs = getEnvInt64("CMSAUTH_LOGIN_WINDOW_SECS", c.Security.LoginWindowSecs)
	c.Security.APIKeyFailThreshold = getEnvUint32("API_KEY_FAIL_THRESHOLD", c.Security.APIKeyFailThreshold)
	c.Security.APIKeyFailWindowSecs = getEnvInt64("API_KEY_FAIL_WINDOW_SECS", c.Security.APIKeyFailWindowSecs)
	c.Security.APIKeyFailMaxTracked = getEnvInt("API_KEY_FAIL_MAX_TRACKED", c.Security.APIKeyFailMaxTracked)
	c.Security.APIKeyFailDisable = getEnvBool("API_KEY_FAIL_DISABLE", c.Security.APIKeyFailDisable)
	c.Security.TrustForwardedFor = getEnvBool("CMSAUTH_TRUST_FORWARDED_FOR", c.Security.TrustForwardedFor)

	c.Password.UpgradeOnLogin = getEnvBool("CMSAUTH_PASSWORD_UPGRADE_ON_LOGIN", c.Password.UpgradeOnLogin)

	if v := strings.TrimSpace(os.Getenv("CMSAUTH_DEFAULT_ROLE")); v != "" {
		r, err := role.Parse(v)
		if err != nil {
			return fmt.Errorf("CMSAUTH_DEFAULT_ROLE: %w", err)
		}
		c.Session.DefaultRole = r
	}

	c.Audit.Enabled = getEnvBool("CMSAUTH_AUDIT_ENABLED", c.Audit.Enabled)
	c.Metrics.Enabled = getEnvBool("CMSAUTH_METRICS_ENABLED", c.Metrics.Enabled)

	c.Logging.Env = getEnvStr("CMSAUTH_LOG_ENV", c.Logging.Env)
	c.Logging.Level = getEnvStr("CMSAUTH_LOG_LEVEL", c.Logging.Level)

	c.Redis.Addr = getEnvStr("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvStr("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Database.URL = getEnvStr("DATABASE_URL", c.Database.URL)

	c.Sentry.DSN = getEnvStr("SENTRY_DSN", c.Sentry.DSN)
	c.Sentry.Environment = getEnvStr("SENTRY_ENVIRONMENT", c.Sentry.Environment)

	c.HTTP.Addr = getEnvStr("CMSAUTH_HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.SecureCookies = getEnvBool("CMSAUTH_HTTP_SECURE_COOKIES", c.HTTP.SecureCookies)
	return nil
}

func getEnvStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvUint32(key string, def uint32) uint32 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
