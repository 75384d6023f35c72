package domain

import "strings"

// Role constants define the resolved roles the engine works with.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// ValidRoles returns the set of roles a permission-set assignment may name.
func ValidRoles() []string {
	return []string{RoleAdmin, RoleUser}
}

// IsValidRole checks whether role is one of ValidRoles.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles() {
		if r == role {
			return true
		}
	}
	return false
}

// ResolveRole collapses a role list to the single role used by the role
// permission tables: "admin" when any entry is admin (case-insensitive),
// otherwise "user".
func ResolveRole(roles []string) string {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), RoleAdmin) {
			return RoleAdmin
		}
	}
	return RoleUser
}

// HasAdmin reports whether the role list grants admin access.
func HasAdmin(roles []string) bool {
	return ResolveRole(roles) == RoleAdmin
}
