package cmsauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/cmsauth/keys"
	"github.com/MrEthical07/cmsauth/password"
	"github.com/MrEthical07/cmsauth/token"
	"github.com/MrEthical07/cmsauth/userstore"
)

var (
	// ErrInvalidCredentials covers unknown accounts and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionRevoked is returned for a refresh token whose session version
	// is no longer current: it was already used, or the subject logged out.
	ErrSessionRevoked = errors.New("session revoked")
	ErrForbidden      = errors.New("forbidden")
	ErrRateLimited    = errors.New("rate limited")
	// ErrWrongTokenKind is returned when an access token is presented where a
	// refresh token is required, or the reverse.
	ErrWrongTokenKind = errors.New("wrong token kind")
	ErrInvalidAPIKey  = errors.New("invalid api key")
	// ErrInvalidRegistration covers malformed usernames and emails.
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrNotReady            = errors.New("auth service not ready")

	ErrExpired           = token.ErrExpired
	ErrInvalidSignature  = token.ErrInvalidSignature
	ErrUnknownKeyVersion = token.ErrUnknownKeyVersion
	ErrKeyNotFound       = keys.ErrKeyNotFound
	ErrPasswordPolicy    = password.ErrPolicy
	ErrUserExists        = userstore.ErrExists
)

// RateLimitError reports a blocked request. It matches ErrRateLimited.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// errorCode is the stable short name recorded in audit events.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrWrongTokenKind):
		return "wrong_token_kind"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUnknownKeyVersion):
		return "unknown_key_version"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrPasswordPolicy):
		return "password_policy"
	case errors.Is(err, ErrUserExists):
		return "user_exists"
	case errors.Is(err, ErrInvalidRegistration):
		return "invalid_registration"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrInvalidAPIKey):
		return "invalid_api_key"
	default:
		return "internal"
	}
}
