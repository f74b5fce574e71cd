package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySource is the read-only view of the key manager the codec needs.
type KeySource interface {
	Signer() (uint32, ed25519.PrivateKey, error)
	VerificationKey(version uint32) (ed25519.PublicKey, bool)
}

// Config configures a Codec.
type Config struct {
	Keys     KeySource
	Issuer   string
	Audience string
	// Leeway tolerates clock skew on exp and iat. At most two minutes.
	Leeway time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Codec signs and verifies tokens. It is safe for concurrent use.
type Codec struct {
	keys   KeySource
	now    func() time.Time
	parser *jwt.Parser
	issuer string
	aud    string
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Keys == nil {
		return nil, errors.New("token: key source is required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway configuration")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}

	return &Codec{
		keys:   cfg.Keys,
		now:    now,
		parser: jwt.NewParser(options...),
		issuer: cfg.Issuer,
		aud:    cfg.Audience,
	}, nil
}

// Sign serializes claims and signs them with the current key. The key version
// is written to the "kid" header.
func (c *Codec) Sign(claims Claims) (string, error) {
	if err := claims.validate(); err != nil {
		return "", err
	}
	version, key, err := c.keys.Signer()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSigner, err)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims.toWire(c.issuer, c.aud))
	tok.Header["kid"] = strconv.FormatUint(uint64(version), 10)
	return tok.SignedString(key)
}

// Verify checks a token and returns its claims. See the package documentation
// for the order of checks and the errors each one produces.
func (c *Codec) Verify(tokenStr string) (Claims, error) {
	var wc wireClaims
	_, err := c.parser.ParseWithClaims(tokenStr, &wc, c.keyFunc)
	if err != nil {
		return Claims{}, classify(err)
	}
	return wc.toClaims()
}

func (c *Codec) keyFunc(t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("missing kid")
	}
	version, err := strconv.ParseUint(kid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("malformed kid %q", kid)
	}
	pub, ok := c.keys.VerificationKey(uint32(version))
	if !ok {
		return nil, fmt.Errorf("%w: v%d", ErrUnknownKeyVersion, version)
	}
	return pub, nil
}

// KeyVersion extracts the kid of a token without verifying it. Intended for
// logging only.
func KeyVersion(tokenStr string) (uint32, bool) {
	tok, _, err := jwt.NewParser().ParseUnverified(tokenStr, &wireClaims{})
	if err != nil {
		return 0, false
	}
	kid, _ := tok.Header["kid"].(string)
	v, err := strconv.ParseUint(kid, 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint32(v), true
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKeyVersion):
		return fmt.Errorf("%w: %v", ErrUnknownKeyVersion, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidClaims):
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}
