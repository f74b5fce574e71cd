package role

import (
	"errors"
	"fmt"
)

// ErrUnknownRole is returned by [Parse] for strings outside the closed set.
var ErrUnknownRole = errors.New("unknown role")

// Role is a member of the closed role set. The zero value is not a valid role.
type Role uint8

const (
	// SuperAdmin is the distinguished top role. Administrative operations
	// require exactly this role.
	SuperAdmin Role = iota + 1
	Admin
	Editor
	Author
	Contributor
	Subscriber
)

var roleNames = [...]string{
	SuperAdmin:  "super_admin",
	Admin:       "admin",
	Editor:      "editor",
	Author:      "author",
	Contributor: "contributor",
	Subscriber:  "subscriber",
}

// declared lists, per role, the lower requirements that role explicitly
// satisfies besides its own. SuperAdmin is handled separately.
var declared = map[Role][]Role{
	Admin:       {Editor, Author, Contributor, Subscriber},
	Editor:      {Author, Contributor, Subscriber},
	Author:      {Contributor, Subscriber},
	Contributor: {Subscriber},
}

// All returns every role from highest to lowest.
func All() []Role {
	return []Role{SuperAdmin, Admin, Editor, Author, Contributor, Subscriber}
}

// Valid reports whether r belongs to the closed set.
func (r Role) Valid() bool {
	return r >= SuperAdmin && r <= Subscriber
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

// Parse maps the wire name of a role back to the enum.
func Parse(s string) (Role, error) {
	for _, r := range All() {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Satisfies reports whether a holder of r may perform an operation that
// requires required. Invalid roles satisfy nothing and are satisfied by nothing.
func (r Role) Satisfies(required Role) bool {
	if !r.Valid() || !required.Valid() {
		return false
	}
	if r == SuperAdmin || r == required {
		return true
	}
	for _, lower := range declared[r] {
		if lower == required {
			return true
		}
	}
	return false
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, uint8(r))
	}
	return []byte(roleNames[r]), nil
}

// UnmarshalText decodes a role name.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
