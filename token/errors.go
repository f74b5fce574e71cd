package token

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature covers every structural or cryptographic failure.
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrUnknownKeyVersion means the token names a key version that is not in
	// the manifest, for example because it was pruned.
	ErrUnknownKeyVersion = errors.New("unknown key version")
	// ErrExpired is returned once the signature verified but the token is past
	// its expiry.
	ErrExpired = errors.New("token expired")
	// ErrInvalidClaims reports signed but unusable claims. It matches
	// ErrInvalidSignature under errors.Is.
	ErrInvalidClaims = fmt.Errorf("%w: invalid claims", ErrInvalidSignature)
	// ErrNoSigner is returned by Sign when the key source has no current key.
	ErrNoSigner = errors.New("no signing key available")
)
