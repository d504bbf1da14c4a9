package domain

import (
	"time"

	"github.com/google/uuid"
)

// TokenPurpose says what an emailed token unlocks.
type TokenPurpose string

const PurposePasswordReset TokenPurpose = "password_reset"

// TokenOrigin records where a token was requested from.
type TokenOrigin struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// VerificationToken is a single-use emailed token. Only its hash is stored.
type VerificationToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Hash       string
	Purpose    TokenPurpose
	Origin     TokenOrigin
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Redeemable returns nil when the token can still be used at now.
func (t *VerificationToken) Redeemable(now time.Time) error {
	if t.ConsumedAt != nil {
		return ErrVerificationTokenConsumed
	}
	if !now.Before(t.ExpiresAt) {
		return ErrVerificationTokenExpired
	}
	return nil
}
