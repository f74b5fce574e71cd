package role

// Permission is a single capability bit.
type Permission uint8

const (
	PermAdmin Permission = 1 << iota
	PermRead
	PermWrite
	PermWriteOwn
	PermDelete
)

var permissionNames = []struct {
	perm Permission
	name string
}{
	{PermAdmin, "admin"},
	{PermRead, "read"},
	{PermWrite, "write"},
	{PermWriteOwn, "write_own"},
	{PermDelete, "delete"},
}

// Permissions is a bitset of [Permission] values.
type Permissions uint8

var defaultPermissions = map[Role]Permissions{
	SuperAdmin:  Permissions(PermAdmin | PermRead | PermWrite | PermDelete),
	Admin:       Permissions(PermRead | PermWrite | PermDelete),
	Editor:      Permissions(PermRead | PermWrite),
	Author:      Permissions(PermRead | PermWriteOwn),
	Contributor: Permissions(PermRead),
	Subscriber:  Permissions(PermRead),
}

// Permissions returns the default capability set of r.
func (r Role) Permissions() Permissions {
	return defaultPermissions[r]
}

// Has reports whether p is present.
func (s Permissions) Has(p Permission) bool {
	return s&Permissions(p) != 0
}

// Names lists the permission names in a stable order.
func (s Permissions) Names() []string {
	out := make([]string, 0, len(permissionNames))
	for _, pn := range permissionNames {
		if s.Has(pn.perm) {
			out = append(out, pn.name)
		}
	}
	return out
}
