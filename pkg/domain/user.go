package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User represents a portal account. TenantID is nil only for super admins.
type User struct {
	ID                  uuid.UUID
	TenantID            *uuid.UUID
	Email               string
	FirstName           string
	LastName            string
	Role                Role
	IsActive            bool
	MustChangePassword  bool
	PasswordChangedAt   *time.Time
	FailedLoginAttempts int
	LockedUntil         *time.Time
	MFAEnabled          bool
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked returns true if the account is currently locked.
func (u *User) IsLocked() bool {
	if u.LockedUntil == nil {
		return false
	}
	return time.Now().Before(*u.LockedUntil)
}

// FullName joins first and last name.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Scope returns the scope the user acts under when authenticated directly.
func (u *User) Scope() Scope {
	return Scope{UserID: u.ID, TenantID: u.TenantID, Role: u.Role}
}

// UserPassword stores password credentials separately from user profile.
type UserPassword struct {
	UserID            uuid.UUID
	PasswordHash      string
	PasswordUpdatedAt time.Time
}

// UserFilter narrows user listings.
type UserFilter struct {
	Role     Role
	Search   string
	IsActive *bool
	Page
}
