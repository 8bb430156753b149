package auth

import "strings"

// Role represents a studio role for role-based access control
type Role string

const (
	// RoleAdmin manages users, models and usage
	RoleAdmin Role = "ADMIN"

	// RoleUser can chat, parse files and edit own settings
	RoleUser Role = "USER"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role has permission for a required role
// Admin has all permissions, user only has user permissions
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

// ParseRole normalises case; ok is false for unknown roles.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.IsValid()
}
