package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/cmsauth/role"
	"github.com/MrEthical07/cmsauth/session"
	"github.com/MrEthical07/cmsauth/token"
)

// RefreshDeps captures refresh dependencies. CurrentRole is optional; without
// it the role carried by the refresh token is reissued.
type RefreshDeps struct {
	Verify      func(string) (token.Claims, error)
	Sessions    SessionStore
	CurrentRole func(ctx context.Context, subject string) (r role.Role, found bool, err error)
	Issue       IssueFunc
}

// RefreshResult carries either the issued pair or failure metadata.
type RefreshResult struct {
	Failure FailureKind
	Err     error
	Claims  token.Claims
	Session session.Session
	Tokens  Tokens
}

// RunRefresh exchanges a refresh token for a new pair. The subject's session
// version is compare-and-incremented against the version the token carries,
// so each refresh token is accepted at most once. A stale token whose version
// was replaced by a later login reports FailureSuperseded instead of
// FailureReuse; both are rejected.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Verify == nil || deps.Sessions == nil || deps.Issue == nil {
		return RefreshResult{Failure: FailureNotReady}
	}

	claims, err := deps.Verify(refreshToken)
	if err != nil {
		return RefreshResult{Failure: FailureToken, Err: err}
	}
	if claims.Kind != token.KindRefresh {
		return RefreshResult{Failure: FailureWrongKind, Claims: claims}
	}

	r := claims.Role
	if deps.CurrentRole != nil {
		current, found, err := deps.CurrentRole(ctx, claims.Subject)
		if err != nil {
			return RefreshResult{Failure: FailureUserLookup, Err: err, Claims: claims}
		}
		if !found {
			return RefreshResult{Failure: FailureInvalidCredentials, Claims: claims}
		}
		r = current
	}

	sess, err := deps.Sessions.CompareAndIncrement(claims.Subject, claims.SessionVersion)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrVersionMismatch) && sess.SupersededByLogin(claims.SessionVersion):
			return RefreshResult{Failure: FailureSuperseded, Err: err, Claims: claims, Session: sess}
		case errors.Is(err, session.ErrVersionMismatch):
			return RefreshResult{Failure: FailureReuse, Err: err, Claims: claims, Session: sess}
		default:
			return RefreshResult{Failure: FailureSessionNotFound, Err: err, Claims: claims}
		}
	}

	tokens, err := deps.Issue(claims.Subject, r, sess.Version)
	if err != nil {
		return RefreshResult{Failure: FailureIssue, Err: err, Claims: claims, Session: sess}
	}
	return RefreshResult{Claims: claims, Session: sess, Tokens: tokens}
}
