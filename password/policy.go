package password

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ErrPolicy is the root of every policy violation returned by [Policy.Validate].
var ErrPolicy = errors.New("password does not meet policy")

// Policy describes the strength rules applied at registration.
type Policy struct {
	MinLength    int
	MaxLength    int
	RequireUpper bool
	RequireLower bool
	RequireDigit bool
}

// DefaultPolicy requires 8 to 128 characters with at least one uppercase
// letter, one lowercase letter and one digit.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:    8,
		MaxLength:    128,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Validate returns nil or an error wrapping ErrPolicy that names the first
// rule pw violates. Length is counted in runes.
func (p Policy) Validate(pw string) error {
	n := utf8.RuneCountInString(pw)
	if p.MinLength > 0 && n < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPolicy, p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrPolicy, p.MaxLength)
	}

	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	switch {
	case p.RequireUpper && !upper:
		return fmt.Errorf("%w: must contain an uppercase letter", ErrPolicy)
	case p.RequireLower && !lower:
		return fmt.Errorf("%w: must contain a lowercase letter", ErrPolicy)
	case p.RequireDigit && !digit:
		return fmt.Errorf("%w: must contain a digit", ErrPolicy)
	}
	return nil
}
