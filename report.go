package cmsauth

import (
	"github.com/MrEthical07/cmsauth/internal/security"
)

// SecurityReport summarizes the effective security configuration and lists
// settings that look unsafe for production.
type SecurityReport = security.Report

func (s *Service) SecurityReport() SecurityReport {
	m := s.keys.Manifest()
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm:  "EdDSA",
		CurrentKeyVersion: m.Current,
		KeyVersions:       len(m.Keys),
		KeyDir:            s.cfg.Keys.Dir,
		AgeIdentity:       s.cfg.Keys.AgeIdentity,
		AccessTTL:         s.cfg.Tokens.AccessTTL(),
		RefreshTTL:        s.cfg.Tokens.RefreshTTL(),
		Leeway:            s.cfg.Tokens.Leeway(),
		Password: security.PasswordReport{
			Memory:         s.cfg.Password.Memory,
			Time:           s.cfg.Password.Time,
			Parallelism:    s.cfg.Password.Parallelism,
			SaltLength:     s.cfg.Password.SaltLength,
			KeyLength:      s.cfg.Password.KeyLength,
			UpgradeOnLogin: s.cfg.Password.UpgradeOnLogin,
			MinLength:      s.cfg.Password.MinLength,
		},
		LoginRateLimiting:   s.cfg.Security.EnableLoginRateLimiting && s.loginLimiter != nil,
		LoginMaxAttempts:    s.cfg.Security.LoginMaxAttempts,
		APIKeyFailDisabled:  s.cfg.Security.APIKeyFailDisable,
		APIKeyFailThreshold: s.cfg.Security.APIKeyFailThreshold,
		AuditEnabled:        s.cfg.Audit.Enabled,
	})
}
