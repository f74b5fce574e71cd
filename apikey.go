package cmsauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/cmsauth/internal/audit"
	"github.com/MrEthical07/cmsauth/internal/logging"
	"github.com/MrEthical07/cmsauth/userstore"
)

// MinAPIKeyLength is the shortest raw key worth a store lookup.
const MinAPIKeyLength = 10

// WellFormedAPIKey reports whether raw has the shape of an issued key. It
// is a cheap pre-check; it says nothing about validity.
func WellFormedAPIKey(raw string) bool {
	return len(raw) >= MinAPIKeyLength && strings.HasPrefix(raw, userstore.APIKeyPrefix)
}

// CreateAPIKey issues a key for an existing account. The raw key is returned
// once; only its hashes are stored.
func (s *Service) CreateAPIKey(ctx context.Context, in NewAPIKey) (string, userstore.APIKey, error) {
	if in.TTL < 0 {
		return "", userstore.APIKey{}, errors.New("api key ttl must be >= 0")
	}
	if _, err := s.users.ByID(ctx, in.UserID); err != nil {
		return "", userstore.APIKey{}, fmt.Errorf("api key owner: %w", err)
	}

	raw, err := userstore.GenerateAPIKey()
	if err != nil {
		return "", userstore.APIKey{}, fmt.Errorf("generate api key: %w", err)
	}
	secret, err := s.hasher.Hash(raw)
	if err != nil {
		return "", userstore.APIKey{}, fmt.Errorf("hash api key: %w", err)
	}

	k := userstore.APIKey{
		UserID:      in.UserID,
		Name:        strings.TrimSpace(in.Name),
		LookupHash:  userstore.LookupHash(raw),
		SecretHash:  secret,
		Permissions: append([]string(nil), in.Permissions...),
	}
	if in.TTL > 0 {
		k.ExpiresAt = s.now().Add(in.TTL).UTC()
	}
	stored, err := s.users.CreateAPIKey(ctx, k)
	if err != nil {
		return "", userstore.APIKey{}, fmt.Errorf("store api key: %w", err)
	}
	return raw, stored, nil
}

// AuthenticateAPIKey resolves raw to its owner. Every failure returns
// ErrInvalidAPIKey. Failure throttling is left to the caller, keyed by
// userstore.LookupHash(raw).
func (s *Service) AuthenticateAPIKey(ctx context.Context, raw string) (APIKeyPrincipal, error) {
	if !WellFormedAPIKey(raw) {
		return APIKeyPrincipal{}, s.apiKeyFailure(ctx, "", "malformed")
	}
	lookup := userstore.LookupHash(raw)

	k, err := s.users.APIKeyByLookupHash(ctx, lookup)
	if errors.Is(err, userstore.ErrNotFound) {
		s.hasher.VerifyDummy(raw)
		return APIKeyPrincipal{}, s.apiKeyFailure(ctx, lookup, "not_found")
	}
	if err != nil {
		s.logger.Error("api key lookup failed", zap.Error(err))
		return APIKeyPrincipal{}, s.apiKeyFailure(ctx, lookup, "lookup_error")
	}

	ok, err := s.hasher.Verify(raw, k.SecretHash)
	if err != nil || !ok {
		return APIKeyPrincipal{}, s.apiKeyFailure(ctx, lookup, "hash_mismatch")
	}
	now := s.now()
	if k.Expired(now) {
		return APIKeyPrincipal{}, s.apiKeyFailure(ctx, lookup, "expired")
	}

	owner, err := s.users.ByID(ctx, k.UserID)
	if err != nil {
		return APIKeyPrincipal{}, s.apiKeyFailure(ctx, lookup, "owner_missing")
	}
	if err := s.users.TouchAPIKey(ctx, k.ID, now); err != nil {
		s.logger.Warn("record api key use failed", zap.String("api_key_id", k.ID), zap.Error(err))
	}

	s.metrics.Inc(MetricAPIKeySuccess)
	return APIKeyPrincipal{
		KeyID:       k.ID,
		UserID:      owner.ID,
		Role:        owner.Role,
		Permissions: append([]string(nil), k.Permissions...),
	}, nil
}

func (s *Service) apiKeyFailure(ctx context.Context, lookup, reason string) error {
	s.metrics.Inc(MetricAPIKeyFailure)
	ip := clientIPFromContext(ctx)
	s.logger.Debug("api key rejected", logging.Reason(reason), logging.ClientIP(ip))
	s.emit(ctx, audit.Event{
		Type:     audit.APIKeyFailure,
		Severity: audit.SeverityInfo,
		IP:       ip,
		Error:    errorCode(ErrInvalidAPIKey),
		Metadata: map[string]string{"reason": reason, "lookup": shortLookup(lookup)},
	})
	return ErrInvalidAPIKey
}

func shortLookup(lookup string) string {
	if len(lookup) > 12 {
		return lookup[:12]
	}
	return lookup
}
