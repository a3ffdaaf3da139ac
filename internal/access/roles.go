// Package access implements the compiled role policy and the guard that every
// state-changing or data-revealing operation passes through.
package access

import (
	"fmt"
	"strings"

	"labdesk.org/internal/apperrors"
)

// Role is one of a fixed set of account roles.
type Role string

const (
	RoleManager  Role = "manager"
	RoleHeadRD   Role = "head_rd"
	RoleEngineer Role = "engineer"
	RoleGuest    Role = "guest"
)

var roles = []Role{RoleManager, RoleHeadRD, RoleEngineer, RoleGuest}

// Roles lists every known role.
func Roles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// ParseRole validates raw against the known roles. Unknown roles are rejected
// instead of mapping to an empty permission set.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if r.Valid() {
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", apperrors.ErrInvalidInput, raw)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := policy[r]
	return ok
}

func (r Role) String() string { return string(r) }
