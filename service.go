package cmsauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth/internal/audit"
	"github.com/MrEthical07/cmsauth/internal/flows"
	"github.com/MrEthical07/cmsauth/internal/logging"
	"github.com/MrEthical07/cmsauth/keys"
	"github.com/MrEthical07/cmsauth/password"
	"github.com/MrEthical07/cmsauth/ratelimit"
	"github.com/MrEthical07/cmsauth/role"
	"github.com/MrEthical07/cmsauth/session"
	"github.com/MrEthical07/cmsauth/token"
	"github.com/MrEthical07/cmsauth/userstore"
)

// Service issues, refreshes, verifies and revokes tokens. Build it with
// [Builder]; it is safe for concurrent use.
type Service struct {
	cfg      Config
	keys     *keys.Manager
	codec    *token.Codec
	sessions *session.Store
	users    userstore.Store
	hasher   *password.Argon2
	policy   password.Policy

	loginLimiter ratelimit.Limiter
	ownedLimiter *ratelimit.FixedWindow

	audit   *audit.Dispatcher
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Login authenticates c and opens a new session version for the account.
// Unknown accounts and wrong passwords both return ErrInvalidCredentials
// after a full password verification.
func (s *Service) Login(ctx context.Context, c Credentials) (AuthResponse, error) {
	var account userstore.User
	res := flows.RunLogin(ctx, c.Identifier, c.Password, flows.LoginDeps{
		Limiter: s.loginLimiter,
		LookupUser: func(ctx context.Context, identifier string) (flows.UserRecord, bool, error) {
			u, found, err := s.lookupUser(ctx, identifier)
			account = u
			return toRecord(u), found, err
		},
		VerifyPassword: s.hasher.Verify,
		VerifyDummy:    s.hasher.VerifyDummy,
		UpgradeHash:    s.upgradeHash,
		Sessions:       s.sessions,
		Issue:          s.issue,
	})

	ip := clientIPFromContext(ctx)
	if res.Failure != flows.FailureNone {
		err := s.mapLoginFailure(res)
		switch res.Failure {
		case flows.FailureRateLimited:
			s.metrics.Inc(MetricLoginRateLimited)
			s.metrics.Inc(MetricRateLimitHit)
			s.emit(ctx, audit.Event{
				Type:     audit.LoginRateLimited,
				Severity: audit.SeverityWarning,
				IP:       ip,
				Error:    errorCode(err),
				Metadata: map[string]string{"retry_after": res.Decision.RetryAfter().String()},
			})
		default:
			s.metrics.Inc(MetricLoginFailure)
			s.emit(ctx, audit.Event{
				Type:     audit.LoginFailure,
				Severity: audit.SeverityInfo,
				Subject:  res.User.ID,
				IP:       ip,
				Error:    errorCode(err),
			})
		}
		if res.Err != nil {
			s.logger.Debug("login failed", logging.Reason(res.Failure.String()), logging.ClientIP(ip), zap.Error(res.Err))
		}
		return AuthResponse{}, err
	}

	if err := s.users.TouchLogin(ctx, account.ID, s.now()); err != nil {
		s.logger.Warn("record login time failed", logging.Subject(account.ID), zap.Error(err))
	}
	s.metrics.Inc(MetricLoginSuccess)
	s.emit(ctx, audit.Event{
		Type:           audit.LoginSuccess,
		Severity:       audit.SeverityInfo,
		Subject:        account.ID,
		SessionVersion: res.Session.Version,
		IP:             ip,
		Success:        true,
	})
	return authResponse(res.Tokens, userInfo(account)), nil
}

// Register creates an account with the configured default role and logs it
// in. The password must satisfy the configured policy.
func (s *Service) Register(ctx context.Context, r Registration) (AuthResponse, error) {
	username, email, err := normalizeRegistration(r)
	if err != nil {
		s.metrics.Inc(MetricRegisterRejected)
		return AuthResponse{}, err
	}

	var account userstore.User
	res := flows.RunRegister(ctx, username, r.Password, flows.RegisterDeps{
		ValidatePassword: s.policy.Validate,
		HashPassword:     s.hasher.Hash,
		CreateUser: func(ctx context.Context, identifier, hash string, rl role.Role) (flows.UserRecord, error) {
			u, err := s.users.Create(ctx, userstore.NewUser{
				Username:     identifier,
				Email:        email,
				PasswordHash: hash,
				Role:         rl,
			})
			account = u
			return toRecord(u), err
		},
		ErrUserExists: userstore.ErrExists,
		DefaultRole:   s.cfg.Session.DefaultRole,
		Sessions:      s.sessions,
		Issue:         s.issue,
	})

	if res.Failure != flows.FailureNone {
		err := s.mapRegisterFailure(res)
		if res.Failure == flows.FailureUserExists {
			s.metrics.Inc(MetricRegisterDuplicate)
		} else {
			s.metrics.Inc(MetricRegisterRejected)
		}
		return AuthResponse{}, err
	}

	s.metrics.Inc(MetricRegisterSuccess)
	s.emit(ctx, audit.Event{
		Type:           audit.Registered,
		Severity:       audit.SeverityInfo,
		Subject:        account.ID,
		SessionVersion: res.Session.Version,
		IP:             clientIPFromContext(ctx),
		Success:        true,
	})
	return authResponse(res.Tokens, userInfo(account)), nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// accepted once; presenting it again returns ErrSessionRevoked and is
// reported as reuse.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	var account userstore.User
	res := flows.RunRefresh(ctx, refreshToken, flows.RefreshDeps{
		Verify:   s.codec.Verify,
		Sessions: s.sessions,
		CurrentRole: func(ctx context.Context, subject string) (role.Role, bool, error) {
			u, err := s.users.ByID(ctx, subject)
			if errors.Is(err, userstore.ErrNotFound) {
				return 0, false, nil
			}
			if err != nil {
				return 0, false, err
			}
			account = u
			return u.Role, true, nil
		},
		Issue: s.issue,
	})

	ip := clientIPFromContext(ctx)
	if res.Failure != flows.FailureNone {
		err := s.mapRefreshFailure(res)
		s.metrics.Inc(MetricRefreshFailure)

		switch {
		case res.Failure == flows.FailureReuse:
			s.metrics.Inc(MetricRefreshReuseDetected)
			s.logger.Warn("refresh token reuse detected",
				logging.Subject(res.Claims.Subject),
				zap.Uint64("presented_version", res.Claims.SessionVersion),
				logging.SessionVersion(res.Session.Version),
				logging.ClientIP(ip),
			)
			s.emit(ctx, audit.Event{
				Type:           audit.RefreshReuseDetected,
				Severity:       audit.SeverityCritical,
				Subject:        res.Claims.Subject,
				SessionVersion: res.Claims.SessionVersion,
				IP:             ip,
				Error:          errorCode(err),
				Metadata: map[string]string{
					"token_id":        res.Claims.ID,
					"current_version": strconv.FormatUint(res.Session.Version, 10),
				},
			})
		case res.Failure == flows.FailureSuperseded:
			s.logger.Info("refresh token superseded by a later login",
				logging.Subject(res.Claims.Subject),
				zap.Uint64("presented_version", res.Claims.SessionVersion),
				logging.SessionVersion(res.Session.Version),
			)
			s.emit(ctx, audit.Event{
				Type:           audit.RefreshFailure,
				Severity:       audit.SeverityInfo,
				Subject:        res.Claims.Subject,
				SessionVersion: res.Claims.SessionVersion,
				IP:             ip,
				Error:          errorCode(err),
				Metadata:       map[string]string{"reason": "superseded_by_login"},
			})
		case errors.Is(err, ErrUnknownKeyVersion):
			s.unknownKeyVersion(ctx, refreshToken, ip)
		default:
			s.emit(ctx, audit.Event{
				Type:     audit.RefreshFailure,
				Severity: audit.SeverityInfo,
				Subject:  res.Claims.Subject,
				IP:       ip,
				Error:    errorCode(err),
			})
		}
		return AuthResponse{}, err
	}

	s.metrics.Inc(MetricRefreshSuccess)
	s.emit(ctx, audit.Event{
		Type:           audit.RefreshSuccess,
		Severity:       audit.SeverityInfo,
		Subject:        res.Claims.Subject,
		SessionVersion: res.Session.Version,
		IP:             ip,
		Success:        true,
	})
	return authResponse(res.Tokens, userInfo(account)), nil
}

// Logout revokes every outstanding refresh token of subject. Calling it
// again, or for a subject that never logged in, succeeds.
func (s *Service) Logout(ctx context.Context, subject string) error {
	if subject == "" {
		return ErrInvalidCredentials
	}
	res := flows.RunLogout(subject, s.sessions)
	s.metrics.Inc(MetricLogout)
	if res.Known {
		s.emit(ctx, audit.Event{
			Type:           audit.Logout,
			Severity:       audit.SeverityInfo,
			Subject:        subject,
			SessionVersion: res.Session.Version,
			IP:             clientIPFromContext(ctx),
			Success:        true,
		})
	}
	return nil
}

// Verify checks an access token's signature, expiry and kind. It does not
// authorize; see Authorize.
func (s *Service) Verify(ctx context.Context, accessToken string) (Claims, error) {
	start := time.Now()
	claims, err := s.codec.Verify(accessToken)
	s.metrics.Observe(MetricVerifyLatency, time.Since(start))
	if err != nil {
		s.metrics.Inc(MetricVerifyFailure)
		if errors.Is(err, ErrUnknownKeyVersion) {
			s.unknownKeyVersion(ctx, accessToken, clientIPFromContext(ctx))
		}
		return Claims{}, err
	}
	if claims.Kind != token.KindAccess {
		s.metrics.Inc(MetricVerifyFailure)
		return Claims{}, ErrWrongTokenKind
	}
	return claims, nil
}

// Authorize returns ErrForbidden unless claims' role satisfies required.
func (s *Service) Authorize(claims Claims, required role.Role) error {
	if !claims.Role.Satisfies(required) {
		s.metrics.Inc(MetricForbidden)
		return fmt.Errorf("%w: %s does not satisfy %s", ErrForbidden, claims.Role, required)
	}
	return nil
}

// Attenuate re-issues accessToken with a narrower role. The new token keeps
// the subject and the original expiry; a role the original does not satisfy
// is rejected with ErrForbidden.
func (s *Service) Attenuate(ctx context.Context, accessToken string, narrower role.Role) (IssuedToken, error) {
	claims, err := s.Verify(ctx, accessToken)
	if err != nil {
		return IssuedToken{}, err
	}
	if !narrower.Valid() {
		return IssuedToken{}, fmt.Errorf("%w: unknown role", ErrForbidden)
	}
	if !claims.Role.Satisfies(narrower) {
		s.metrics.Inc(MetricForbidden)
		return IssuedToken{}, fmt.Errorf("%w: %s cannot attenuate to %s", ErrForbidden, claims.Role, narrower)
	}

	now := s.now().UTC().Truncate(time.Second)
	if !claims.ExpiresAt.After(now) {
		return IssuedToken{}, ErrExpired
	}
	narrowed := Claims{
		ID:        uuid.NewString(),
		Kind:      token.KindAccess,
		Subject:   claims.Subject,
		Role:      narrower,
		IssuedAt:  now,
		ExpiresAt: claims.ExpiresAt,
	}
	signed, err := s.codec.Sign(narrowed)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign attenuated token: %w", err)
	}
	s.metrics.Inc(MetricAttenuate)
	return IssuedToken{Token: signed, ExpiresAt: narrowed.ExpiresAt}, nil
}

// RotateKeys generates a key and makes it current. Tokens signed with the
// previous key keep verifying until it is pruned.
func (s *Service) RotateKeys(ctx context.Context) (keys.KeyPair, error) {
	kp, err := s.keys.Rotate(ctx)
	if err != nil {
		return keys.KeyPair{}, err
	}
	s.metrics.Inc(MetricKeyRotated)
	s.logger.Info("signing key rotated", logging.KeyVersion(kp.Version))
	s.emit(ctx, audit.Event{
		Type:       audit.KeyRotated,
		Severity:   audit.SeverityInfo,
		KeyVersion: kp.Version,
		Success:    true,
	})
	return kp, nil
}

// PruneKeys drops old verification keys using the configured retention.
func (s *Service) PruneKeys(ctx context.Context) ([]uint32, error) {
	pruned, err := s.keys.Prune(ctx, s.cfg.Keys.RetainCount, s.cfg.Keys.MinAge())
	if err != nil {
		return nil, err
	}
	if len(pruned) > 0 {
		s.metrics.Add(MetricKeysPruned, uint64(len(pruned)))
		s.logger.Info("verification keys pruned", zap.Uint32s("versions", pruned))
		s.emit(ctx, audit.Event{
			Type:     audit.KeysPruned,
			Severity: audit.SeverityInfo,
			Success:  true,
			Metadata: map[string]string{"versions": fmt.Sprint(pruned)},
		})
	}
	return pruned, nil
}

// SessionCount reports how many subjects have a session.
func (s *Service) SessionCount() int {
	return s.sessions.Len()
}

// CleanupSessions drops sessions idle for longer than the refresh TTL plus
// the verification leeway. No refresh token issued for them can still verify.
func (s *Service) CleanupSessions() int {
	n := s.sessions.Cleanup(s.cfg.Tokens.RefreshTTL() + s.cfg.Tokens.Leeway())
	if n > 0 {
		s.metrics.Add(MetricSessionsCleaned, uint64(n))
		s.logger.Debug("idle sessions removed", zap.Int("count", n))
	}
	return n
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupSessions()
		}
	}
}

// LoginLimiterTrackedLen reports how many identifiers the login limiter holds.
func (s *Service) LoginLimiterTrackedLen() int {
	if s.loginLimiter == nil {
		return 0
	}
	return s.loginLimiter.TrackedLen()
}

// MetricsSnapshot returns a copy of the service counters.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Metrics exposes the live counters for components that record into them,
// such as HTTP middleware.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// AuditDropped reports audit events lost to a full buffer.
func (s *Service) AuditDropped() uint64 {
	return s.audit.Dropped()
}

// Close stops background work and flushes pending audit events.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		if s.ownedLimiter != nil {
			err = s.ownedLimiter.Close()
		}
		s.audit.Close()
	})
	return err
}

func (s *Service) issue(subject string, r role.Role, sessionVersion uint64) (flows.Tokens, error) {
	now := s.now().UTC().Truncate(time.Second)

	access := Claims{
		ID:        uuid.NewString(),
		Kind:      token.KindAccess,
		Subject:   subject,
		Role:      r,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.Tokens.AccessTTL()),
	}
	refresh := Claims{
		ID:             uuid.NewString(),
		Kind:           token.KindRefresh,
		Subject:        subject,
		Role:           r,
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.cfg.Tokens.RefreshTTL()),
		SessionVersion: sessionVersion,
	}

	accessToken, err := s.codec.Sign(access)
	if err != nil {
		return flows.Tokens{}, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := s.codec.Sign(refresh)
	if err != nil {
		return flows.Tokens{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return flows.Tokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *Service) lookupUser(ctx context.Context, identifier string) (userstore.User, bool, error) {
	u, err := s.users.ByIdentifier(ctx, identifier)
	if errors.Is(err, userstore.ErrNotFound) {
		return userstore.User{}, false, nil
	}
	if err != nil {
		return userstore.User{}, false, err
	}
	return u, true, nil
}

func (s *Service) upgradeHash(ctx context.Context, u flows.UserRecord, plaintext string) {
	if !s.cfg.Password.UpgradeOnLogin {
		return
	}
	stale, err := s.hasher.NeedsUpgrade(u.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		s.logger.Warn("rehash password failed", logging.Subject(u.ID), zap.Error(err))
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		s.logger.Warn("store upgraded password hash failed", logging.Subject(u.ID), zap.Error(err))
	}
}

func (s *Service) unknownKeyVersion(ctx context.Context, raw, ip string) {
	version, _ := token.KeyVersion(raw)
	s.metrics.Inc(MetricUnknownKeyVersion)
	s.logger.Warn("token signed with unknown key version", logging.KeyVersion(version), logging.ClientIP(ip))
	s.emit(ctx, audit.Event{
		Type:       audit.UnknownKeyVersion,
		Severity:   audit.SeverityWarning,
		KeyVersion: version,
		IP:         ip,
		Error:      errorCode(ErrUnknownKeyVersion),
	})
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	s.audit.Emit(ctx, e)
}

func (s *Service) mapLoginFailure(res flows.LoginResult) error {
	switch res.Failure {
	case flows.FailureRateLimited:
		return &RateLimitError{RetryAfter: res.Decision.RetryAfter()}
	case flows.FailureInvalidCredentials:
		return ErrInvalidCredentials
	case flows.FailureUserLookup:
		return fmt.Errorf("lookup user: %w", res.Err)
	default:
		return s.mapCommonFailure(res.Failure, res.Err)
	}
}

func (s *Service) mapRegisterFailure(res flows.LoginResult) error {
	switch res.Failure {
	case flows.FailurePolicy:
		if errors.Is(res.Err, ErrPasswordPolicy) {
			return res.Err
		}
		return fmt.Errorf("%w: %v", ErrInvalidRegistration, res.Err)
	case flows.FailureUserExists:
		return ErrUserExists
	case flows.FailureHash:
		return fmt.Errorf("hash password: %w", res.Err)
	case flows.FailureCreateUser:
		return fmt.Errorf("create user: %w", res.Err)
	default:
		return s.mapCommonFailure(res.Failure, res.Err)
	}
}

func (s *Service) mapRefreshFailure(res flows.RefreshResult) error {
	switch res.Failure {
	case flows.FailureToken:
		return res.Err
	case flows.FailureWrongKind:
		return ErrWrongTokenKind
	case flows.FailureReuse, flows.FailureSuperseded, flows.FailureSessionNotFound:
		return ErrSessionRevoked
	case flows.FailureInvalidCredentials:
		return ErrInvalidCredentials
	case flows.FailureUserLookup:
		return fmt.Errorf("lookup user: %w", res.Err)
	default:
		return s.mapCommonFailure(res.Failure, res.Err)
	}
}

func (s *Service) mapCommonFailure(kind flows.FailureKind, err error) error {
	switch kind {
	case flows.FailureNotReady:
		return ErrNotReady
	case flows.FailureIssue:
		s.logger.Error("token issue failed", zap.Error(err))
		return fmt.Errorf("issue tokens: %w", err)
	default:
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		return fmt.Errorf("auth failure: %s", kind)
	}
}

func toRecord(u userstore.User) flows.UserRecord {
	return flows.UserRecord{
		ID:           u.ID,
		Identifier:   u.Username,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
	}
}

func authResponse(t flows.Tokens, user *UserInfo) AuthResponse {
	return AuthResponse{
		Success: true,
		Tokens: TokenPair{
			AccessToken:  IssuedToken{Token: t.AccessToken, ExpiresAt: t.AccessExpiresAt},
			RefreshToken: IssuedToken{Token: t.RefreshToken, ExpiresAt: t.RefreshExpiresAt},
		},
		User: user,
	}
}
