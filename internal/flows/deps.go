package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/cmsauth/role"
	"github.com/MrEthical07/cmsauth/session"
)

// FailureKind classifies flow failures for root-level mapping to sentinels.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureNotReady
	FailureRateLimited
	FailureInvalidCredentials
	FailureUserLookup
	FailureToken
	FailureWrongKind
	FailureReuse
	FailureSuperseded
	FailureSessionNotFound
	FailurePolicy
	FailureUserExists
	FailureHash
	FailureCreateUser
	FailureIssue
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureNotReady:
		return "not_ready"
	case FailureRateLimited:
		return "rate_limited"
	case FailureInvalidCredentials:
		return "invalid_credentials"
	case FailureUserLookup:
		return "user_lookup"
	case FailureToken:
		return "token"
	case FailureWrongKind:
		return "wrong_kind"
	case FailureReuse:
		return "reuse"
	case FailureSuperseded:
		return "superseded"
	case FailureSessionNotFound:
		return "session_not_found"
	case FailurePolicy:
		return "policy"
	case FailureUserExists:
		return "user_exists"
	case FailureHash:
		return "hash"
	case FailureCreateUser:
		return "create_user"
	case FailureIssue:
		return "issue"
	default:
		return "unknown"
	}
}

// UserRecord is the flow-local view of an account.
type UserRecord struct {
	ID           string
	Identifier   string
	PasswordHash string
	Role         role.Role
}

// Tokens is a freshly minted access and refresh pair.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// IssueFunc mints a pair for subject bound to sessionVersion.
type IssueFunc func(subject string, r role.Role, sessionVersion uint64) (Tokens, error)

// SessionStore is the subset of session.Store the flows use.
type SessionStore interface {
	Open(subject string) session.Session
	CompareAndIncrement(subject string, expected uint64) (session.Session, error)
	Revoke(subject string) (session.Session, bool)
}

// UserLookup finds an account by login identifier. A missing account is
// reported with found=false and a nil error.
type UserLookup func(ctx context.Context, identifier string) (u UserRecord, found bool, err error)
