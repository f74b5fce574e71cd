package flows

import (
	"context"

	"github.com/MrEthical07/cmsauth/ratelimit"
	"github.com/MrEthical07/cmsauth/session"
)

// LoginDeps captures login dependencies. Limiter and UpgradeHash are optional.
type LoginDeps struct {
	Limiter        ratelimit.Limiter
	LookupUser     UserLookup
	VerifyPassword func(password, encodedHash string) (bool, error)
	VerifyDummy    func(password string)
	UpgradeHash    func(ctx context.Context, u UserRecord, password string)
	Sessions       SessionStore
	Issue          IssueFunc
}

// LoginResult carries either the issued pair or failure metadata.
type LoginResult struct {
	Failure  FailureKind
	Err      error
	Decision ratelimit.Decision
	User     UserRecord
	Session  session.Session
	Tokens   Tokens
}

// RunLogin authenticates identifier/password and opens a session version.
// Unknown identifiers and wrong passwords take the same path through a
// password verification and report the same failure kind.
func RunLogin(ctx context.Context, identifier, password string, deps LoginDeps) LoginResult {
	if deps.LookupUser == nil || deps.VerifyPassword == nil || deps.Sessions == nil || deps.Issue == nil {
		return LoginResult{Failure: FailureNotReady}
	}

	key := ratelimit.LoginKey(identifier)
	if deps.Limiter != nil {
		if d := deps.Limiter.Check(ctx, key); !d.Allowed() {
			return LoginResult{Failure: FailureRateLimited, Decision: d}
		}
	}

	u, found, err := deps.LookupUser(ctx, identifier)
	if err != nil {
		return LoginResult{Failure: FailureUserLookup, Err: err}
	}
	if !found {
		if deps.VerifyDummy != nil {
			deps.VerifyDummy(password)
		}
		return LoginResult{Failure: FailureInvalidCredentials}
	}

	ok, err := deps.VerifyPassword(password, u.PasswordHash)
	if err != nil {
		// Verification refused before doing the work (oversized input,
		// unreadable hash). Pay the same cost as the unknown-account path.
		if deps.VerifyDummy != nil {
			deps.VerifyDummy(password)
		}
		return LoginResult{Failure: FailureInvalidCredentials, Err: err, User: u}
	}
	if !ok {
		return LoginResult{Failure: FailureInvalidCredentials, User: u}
	}

	if deps.Limiter != nil {
		deps.Limiter.Clear(ctx, key)
	}
	if deps.UpgradeHash != nil {
		deps.UpgradeHash(ctx, u, password)
	}

	return issueForUser(u, deps.Sessions, deps.Issue)
}

func issueForUser(u UserRecord, sessions SessionStore, issue IssueFunc) LoginResult {
	sess := sessions.Open(u.ID)
	tokens, err := issue(u.ID, u.Role, sess.Version)
	if err != nil {
		return LoginResult{Failure: FailureIssue, Err: err, User: u, Session: sess}
	}
	return LoginResult{User: u, Session: sess, Tokens: tokens}
}
