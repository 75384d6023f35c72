package domain

import (
	"strings"
	"time"
)

// User is a directory entry keyed by its lowercased email.
type User struct {
	Email             string         `json:"email"`
	PasswordHash      *string        `json:"-"`
	EmailVerified     bool           `json:"email_verified"`
	TwoFactorEnabled  bool           `json:"two_factor_enabled"`
	Locked            bool           `json:"locked"`
	Role              string         `json:"role"`
	Metadata          map[string]any `json:"metadata"`
	ProfileFields     map[string]any `json:"profile_fields"`
	ProfilePictureURL *string        `json:"profile_picture_url,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	LastLogin         *time.Time     `json:"last_login,omitempty"`
}

// HasPassword reports whether the user can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// Roles returns the user's role list. An empty role means "user".
func (u *User) Roles() []string {
	if strings.TrimSpace(u.Role) == "" {
		return []string{RoleUser}
	}
	return []string{u.Role}
}

// UserUpdate carries the mutable fields of a user; nil fields are left as-is.
type UserUpdate struct {
	EmailVerified     *bool
	TwoFactorEnabled  *bool
	Locked            *bool
	Role              *string
	Metadata          map[string]any
	ProfileFields     map[string]any
	ProfilePictureURL *string
	PasswordHash      *string
}

// UserFilter narrows a user listing.
type UserFilter struct {
	Query  string
	Limit  int
	Offset int
}

// NormalizeEmail trims and lowercases an email address. Every lookup and
// write goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DirectoryEntry is the public projection of a user for directory listings.
type DirectoryEntry struct {
	Email         string         `json:"email"`
	ProfileFields map[string]any `json:"profile_fields"`
}
