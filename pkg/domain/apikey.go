package domain

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a tenant-scoped machine credential. Only the hash is stored.
type APIKey struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	UserID     uuid.UUID
	Name       string
	Prefix     string
	KeyHash    string
	Scopes     []string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// IsExpired reports whether the key has passed its expiry at now.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

// IsActive reports whether the key may authenticate at now.
func (k *APIKey) IsActive(now time.Time) bool {
	return k.RevokedAt == nil && !k.IsExpired(now)
}
