package cmsauth

import (
	"time"

	"github.com/MrEthical07/cmsauth/role"
	"github.com/MrEthical07/cmsauth/token"
	"github.com/MrEthical07/cmsauth/userstore"
)

// Credentials is a login request. Identifier is a username or an email.
type Credentials struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TokenPair struct {
	AccessToken  IssuedToken `json:"access_token"`
	RefreshToken IssuedToken `json:"refresh_token"`
}

type UserInfo struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Role      role.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthResponse is the body returned by login, registration and refresh.
// Tokens are always nested; there are no flat token fields.
type AuthResponse struct {
	Success bool      `json:"success"`
	Tokens  TokenPair `json:"tokens"`
	User    *UserInfo `json:"user,omitempty"`
}

// APIKeyPrincipal is the identity behind a verified API key.
type APIKeyPrincipal struct {
	KeyID       string
	UserID      string
	Role        role.Role
	Permissions []string
}

// NewAPIKey is the input to Service.CreateAPIKey.
type NewAPIKey struct {
	UserID      string
	Name        string
	Permissions []string
	// TTL of zero creates a key that never expires.
	TTL time.Duration
}

// Claims is re-exported so callers need not import the token package.
type Claims = token.Claims

func userInfo(u userstore.User) *UserInfo {
	return &UserInfo{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}
