package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantStatusTrial     TenantStatus = "trial"
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantStatusTrial, TenantStatusActive, TenantStatusSuspended:
		return true
	}
	return false
}

// TenantSettings holds per-tenant seat limits. Zero means the plan limit applies.
type TenantSettings struct {
	MaxUsers  int `json:"max_users"`
	MaxAdmins int `json:"max_admins"`
}

// Tenant is an immigration consultancy using the portal.
type Tenant struct {
	ID           uuid.UUID
	Name         string
	Domain       string
	Status       TenantStatus
	ContactEmail string
	ContactPhone string
	Settings     TenantSettings
	TrialEndsAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// IsOperational reports whether users of the tenant may sign in at now.
func (t *Tenant) IsOperational(now time.Time) bool {
	return t.CheckAccess(now) == nil
}

// CheckAccess returns the reason users of the tenant may not sign in, if any.
func (t *Tenant) CheckAccess(now time.Time) error {
	if t.DeletedAt != nil {
		return ErrTenantNotFound
	}
	switch t.Status {
	case TenantStatusActive:
		return nil
	case TenantStatusTrial:
		if t.TrialEndsAt != nil && !now.Before(*t.TrialEndsAt) {
			return ErrTrialExpired
		}
		return nil
	default:
		return ErrTenantSuspended
	}
}

// TenantFilter narrows tenant listings.
type TenantFilter struct {
	Status TenantStatus
	Search string
	Page
}

// TenantUpdate carries optional tenant changes.
type TenantUpdate struct {
	Name         *string
	ContactEmail *string
	ContactPhone *string
	Settings     *TenantSettings
	TrialEndsAt  *time.Time
}

var tenantDomainRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)

// NormalizeTenantDomain lowercases and validates a tenant domain such as
// "acme-immigration" or "portal.acme.ca".
func NormalizeTenantDomain(s string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(s))
	if d == "" || len(d) > 253 || !tenantDomainRe.MatchString(d) {
		return "", Validation("invalid tenant domain %q", s)
	}
	return d, nil
}
