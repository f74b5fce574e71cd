package token

import (
	"fmt"
	"time"

	"github.com/MrEthical07/cmsauth/role"
	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims is the logical content of a token. Times have second precision.
type Claims struct {
	ID        string
	Kind      Kind
	Subject   string
	Role      role.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	// SessionVersion is only meaningful for refresh tokens.
	SessionVersion uint64
}

type wireClaims struct {
	Kind           string  `json:"typ"`
	Role           string  `json:"role"`
	SessionVersion *uint64 `json:"sv,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidClaims, c.Kind)
	}
	if c.Subject == "" {
		return fmt.Errorf("%w: empty subject", ErrInvalidClaims)
	}
	if !c.Role.Valid() {
		return fmt.Errorf("%w: role %d", ErrInvalidClaims, uint8(c.Role))
	}
	if !c.ExpiresAt.After(c.IssuedAt) {
		return fmt.Errorf("%w: expiry not after issue time", ErrInvalidClaims)
	}
	return nil
}

func (c Claims) toWire(issuer, audience string) wireClaims {
	w := wireClaims{
		Kind: string(c.Kind),
		Role: c.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.ID,
			Subject:   c.Subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
	}
	if audience != "" {
		w.Audience = jwt.ClaimStrings{audience}
	}
	if c.Kind == KindRefresh {
		v := c.SessionVersion
		w.SessionVersion = &v
	}
	return w
}

func (w *wireClaims) toClaims() (Claims, error) {
	kind := Kind(w.Kind)
	if !kind.Valid() {
		return Claims{}, fmt.Errorf("%w: kind %q", ErrInvalidClaims, w.Kind)
	}
	r, err := role.Parse(w.Role)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	if w.Subject == "" || w.IssuedAt == nil || w.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing sub, iat or exp", ErrInvalidClaims)
	}
	c := Claims{
		ID:        w.ID,
		Kind:      kind,
		Subject:   w.Subject,
		Role:      r,
		IssuedAt:  w.IssuedAt.Time.UTC(),
		ExpiresAt: w.ExpiresAt.Time.UTC(),
	}
	if kind == KindRefresh {
		if w.SessionVersion == nil {
			return Claims{}, fmt.Errorf("%w: refresh token without session version", ErrInvalidClaims)
		}
		c.SessionVersion = *w.SessionVersion
	}
	return c, nil
}
