package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/cmsauth/role"
)

// RegisterDeps captures registration dependencies.
type RegisterDeps struct {
	ValidatePassword func(string) error
	HashPassword     func(string) (string, error)
	CreateUser       func(ctx context.Context, identifier, passwordHash string, r role.Role) (UserRecord, error)
	// ErrUserExists is matched with errors.Is against CreateUser failures.
	ErrUserExists error
	DefaultRole   role.Role
	Sessions      SessionStore
	Issue         IssueFunc
}

// RunRegister creates an account and logs it in.
func RunRegister(ctx context.Context, identifier, password string, deps RegisterDeps) LoginResult {
	if deps.HashPassword == nil || deps.CreateUser == nil || deps.Sessions == nil || deps.Issue == nil {
		return LoginResult{Failure: FailureNotReady}
	}
	if identifier == "" {
		return LoginResult{Failure: FailurePolicy, Err: errors.New("identifier is required")}
	}
	if deps.ValidatePassword != nil {
		if err := deps.ValidatePassword(password); err != nil {
			return LoginResult{Failure: FailurePolicy, Err: err}
		}
	}

	hash, err := deps.HashPassword(password)
	if err != nil {
		return LoginResult{Failure: FailureHash, Err: err}
	}

	r := deps.DefaultRole
	if !r.Valid() {
		r = role.Subscriber
	}
	u, err := deps.CreateUser(ctx, identifier, hash, r)
	if err != nil {
		if deps.ErrUserExists != nil && errors.Is(err, deps.ErrUserExists) {
			return LoginResult{Failure: FailureUserExists, Err: err}
		}
		return LoginResult{Failure: FailureCreateUser, Err: err}
	}

	return issueForUser(u, deps.Sessions, deps.Issue)
}
