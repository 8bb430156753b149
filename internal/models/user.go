package models

import (
	"time"
)

// Account statuses.
const (
	UserStatusActive    = "active"
	UserStatusInactive  = "inactive"
	UserStatusSuspended = "suspended"
)

// User is a studio account. PasswordHash is a bcrypt hash and never leaves the server.
type User struct {
	ID           string     `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Email        *string    `db:"email" json:"email,omitempty"`
	Role         string     `db:"role" json:"role"`
	Status       string     `db:"status" json:"status"`
	Notes        *string    `db:"notes" json:"notes,omitempty"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// IsActive checks if the account may sign in
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// ValidUserStatus reports whether s is a known account status.
func ValidUserStatus(s string) bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusSuspended:
		return true
	default:
		return false
	}
}

// UserUpdate is an admin partial update of an account.
type UserUpdate struct {
	Email  *string `json:"email,omitempty"`
	Role   *string `json:"role,omitempty"`
	Status *string `json:"status,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

// IsEmpty reports whether the update touches no field.
func (u *UserUpdate) IsEmpty() bool {
	return u.Email == nil && u.Role == nil && u.Status == nil && u.Notes == nil
}
