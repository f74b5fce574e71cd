package userstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/MrEthical07/cmsauth/role"
)

var (
	ErrNotFound = errors.New("userstore: not found")
	ErrExists   = errors.New("userstore: already exists")
)

// APIKeyPrefix starts every raw API key.
const APIKeyPrefix = "ak_"

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         role.Role
	CreatedAt    time.Time
	LastLoginAt  time.Time
}

// NewUser is the input to Store.Create.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Role         role.Role
}

type APIKey struct {
	ID          string
	UserID      string
	Name        string
	LookupHash  string
	SecretHash  string
	Permissions []string
	CreatedAt   time.Time
	// ExpiresAt is zero for keys that never expire.
	ExpiresAt  time.Time
	LastUsedAt time.Time
}

// Expired reports whether the key is past its expiry at now.
func (k APIKey) Expired(now time.Time) bool {
	return !k.ExpiresAt.IsZero() && !now.Before(k.ExpiresAt)
}

// Store is implemented by Memory and Postgres. Lookups return ErrNotFound
// when nothing matches; Create returns ErrExists on a username or email clash.
type Store interface {
	// ByIdentifier matches username or email, case-insensitively.
	ByIdentifier(ctx context.Context, identifier string) (User, error)
	ByID(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, u NewUser) (User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetRole(ctx context.Context, id string, r role.Role) error
	TouchLogin(ctx context.Context, id string, at time.Time) error

	CreateAPIKey(ctx context.Context, k APIKey) (APIKey, error)
	APIKeyByLookupHash(ctx context.Context, lookupHash string) (APIKey, error)
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// LookupHash is the deterministic index of a raw API key.
func LookupHash(raw string) string {
	sum := blake3.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a fresh raw key with the "ak_" prefix.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
