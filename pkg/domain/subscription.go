package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the billing state of a tenant subscription.
type SubscriptionStatus string

const (
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// SubscriptionPlan is a purchasable tier.
type SubscriptionPlan struct {
	ID         uuid.UUID
	Name       string
	Slug       string
	PriceCents int64
	Interval   string
	MaxUsers   int
	MaxAdmins  int
	Features   []string
	IsActive   bool
	CreatedAt  time.Time
}

// Subscription binds a tenant to a plan and tracks seat usage.
type Subscription struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	PlanID             uuid.UUID
	Status             SubscriptionStatus
	CurrentUsers       int
	CurrentAdmins      int
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   *time.Time
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// Plan is populated by lookups that join the plan.
	Plan *SubscriptionPlan
}

// IsUsable reports whether the tenant may keep signing in under this subscription.
func (s *Subscription) IsUsable() bool {
	switch s.Status {
	case SubscriptionTrialing, SubscriptionActive, SubscriptionPastDue:
		return true
	}
	return false
}

// HasCapacity reports whether one more seat of role fits under the limits.
// A zero limit is unlimited.
func (s *Subscription) HasCapacity(role Role, maxUsers, maxAdmins int) bool {
	if maxUsers > 0 && s.CurrentUsers >= maxUsers {
		return false
	}
	if role.CountsAsAdmin() && maxAdmins > 0 && s.CurrentAdmins >= maxAdmins {
		return false
	}
	return true
}

// SeatLimits returns the effective user and admin limits. Tenant settings
// tighten plan limits; a zero limit means unlimited.
func SeatLimits(plan *SubscriptionPlan, settings TenantSettings) (maxUsers, maxAdmins int) {
	if plan != nil {
		maxUsers, maxAdmins = plan.MaxUsers, plan.MaxAdmins
	}
	if settings.MaxUsers > 0 && (maxUsers == 0 || settings.MaxUsers < maxUsers) {
		maxUsers = settings.MaxUsers
	}
	if settings.MaxAdmins > 0 && (maxAdmins == 0 || settings.MaxAdmins < maxAdmins) {
		maxAdmins = settings.MaxAdmins
	}
	return maxUsers, maxAdmins
}

// Usage is a snapshot of seat consumption.
type Usage struct {
	CurrentUsers  int `json:"current_users"`
	MaxUsers      int `json:"max_users"`
	CurrentAdmins int `json:"current_admins"`
	MaxAdmins     int `json:"max_admins"`
}
