package security

import "time"

// Floors below which BuildReport adds a warning.
const (
	minArgon2MemoryKiB = 19 * 1024
	minPasswordLength  = 8
	maxAccessTTL       = time.Hour
	maxLeeway          = time.Minute
)

type PasswordReport struct {
	Memory         uint32 `json:"memory_kib"`
	Time           uint32 `json:"time"`
	Parallelism    uint8  `json:"parallelism"`
	SaltLength     uint32 `json:"salt_length"`
	KeyLength      uint32 `json:"key_length"`
	UpgradeOnLogin bool   `json:"upgrade_on_login"`
	MinLength      int    `json:"min_length"`
}

// Report summarizes the security-relevant configuration of a running service.
type Report struct {
	SigningAlgorithm             string         `json:"signing_algorithm"`
	CurrentKeyVersion            uint32         `json:"current_key_version"`
	KeyVersions                  int            `json:"key_versions"`
	KeysPersisted                bool           `json:"keys_persisted"`
	KeysSealed                   bool           `json:"keys_sealed"`
	AccessTTL                    time.Duration  `json:"access_ttl"`
	RefreshTTL                   time.Duration  `json:"refresh_ttl"`
	Leeway                       time.Duration  `json:"leeway"`
	Argon2                       PasswordReport `json:"argon2"`
	RefreshRotationEnabled       bool           `json:"refresh_rotation_enabled"`
	RefreshReuseDetectionEnabled bool           `json:"refresh_reuse_detection_enabled"`
	LoginRateLimitingActive      bool           `json:"login_rate_limiting_active"`
	APIKeyFailureLimitingActive  bool           `json:"api_key_failure_limiting_active"`
	AuditEnabled                 bool           `json:"audit_enabled"`
	Warnings                     []string       `json:"warnings,omitempty"`
}

type ReportInput struct {
	SigningAlgorithm    string
	CurrentKeyVersion   uint32
	KeyVersions         int
	KeyDir              string
	AgeIdentity         string
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	Leeway              time.Duration
	Password            PasswordReport
	LoginRateLimiting   bool
	LoginMaxAttempts    uint32
	APIKeyFailDisabled  bool
	APIKeyFailThreshold uint32
	AuditEnabled        bool
}

func BuildReport(in ReportInput) Report {
	r := Report{
		SigningAlgorithm:             in.SigningAlgorithm,
		CurrentKeyVersion:            in.CurrentKeyVersion,
		KeyVersions:                  in.KeyVersions,
		KeysPersisted:                in.KeyDir != "",
		KeysSealed:                   in.KeyDir != "" && in.AgeIdentity != "",
		AccessTTL:                    in.AccessTTL,
		RefreshTTL:                   in.RefreshTTL,
		Leeway:                       in.Leeway,
		Argon2:                       in.Password,
		RefreshRotationEnabled:       true,
		RefreshReuseDetectionEnabled: true,
		LoginRateLimitingActive:      in.LoginRateLimiting && in.LoginMaxAttempts > 0,
		APIKeyFailureLimitingActive:  !in.APIKeyFailDisabled && in.APIKeyFailThreshold > 0,
		AuditEnabled:                 in.AuditEnabled,
	}

	warn := func(cond bool, msg string) {
		if cond {
			r.Warnings = append(r.Warnings, msg)
		}
	}
	warn(!r.KeysPersisted, "signing keys are not persisted; a restart invalidates every token")
	warn(r.KeysPersisted && !r.KeysSealed, "private keys are stored unencrypted")
	warn(in.AccessTTL > maxAccessTTL, "access tokens live longer than one hour")
	warn(in.AccessTTL >= in.RefreshTTL, "access tokens outlive refresh tokens")
	warn(in.Leeway > maxLeeway, "clock leeway above one minute")
	warn(in.Password.Memory < minArgon2MemoryKiB, "argon2 memory below 19 MiB")
	warn(in.Password.MinLength < minPasswordLength, "minimum password length below 8")
	warn(!r.LoginRateLimitingActive, "login rate limiting is off")
	warn(!r.APIKeyFailureLimitingActive, "api key failure limiting is off")
	warn(!r.AuditEnabled, "audit events are disabled")
	return r
}
