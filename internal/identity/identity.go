package identity

import "strings"

// Role names the coarse permission level attached to an authenticated caller.
// Role assignment happens outside this service; the value arrives embedded in
// the caller's token.
type Role string

const (
	// RoleAdmin may use the disk-tier upload path and delete blobs.
	RoleAdmin Role = "admin"
	// RoleUser may use the inline tier and all read operations.
	RoleUser Role = "user"
)

// Privileged reports whether the role may perform disk-tier writes and deletes.
func (r Role) Privileged() bool {
	return r == RoleAdmin
}

// Identity is the authenticated caller attached to every request and channel
// connection. It is a seam: how the subject logged in is not this service's
// concern.
type Identity struct {
	SubjectID string
	Role      Role
}

// ParseRole normalises a role claim, defaulting unknown values to RoleUser.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoleAdmin):
		return RoleAdmin
	default:
		return RoleUser
	}
}
