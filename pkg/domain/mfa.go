package domain

import (
	"time"

	"github.com/google/uuid"
)

type MFAMethod string

const MFAMethodTOTP MFAMethod = "totp"

// MFASettings holds a user's second factor and its lockout counters.
type MFASettings struct {
	UserID          uuid.UUID
	TenantID        *uuid.UUID
	Method          MFAMethod
	SecretEncrypted string // AES-256-GCM, base64 with nonce prefix
	Enabled         bool
	FailedAttempts  int
	LockedUntil     *time.Time
	LastUsedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsLocked reports whether verification is blocked at now.
func (m *MFASettings) IsLocked(now time.Time) bool {
	return m.LockedUntil != nil && now.Before(*m.LockedUntil)
}

// MFARecoveryCode is a single-use backup code, stored hashed.
type MFARecoveryCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CodeHash  string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// MFASetupResponse contains data returned when setting up MFA
type MFASetupResponse struct {
	Secret        string   // Base32 TOTP secret (for manual entry)
	QRCodeDataURI string   // QR code as data:image/png;base64,...
	RecoveryCodes []string // Plain text recovery codes (shown once)
}

// MFAStatus summarizes a user's MFA state.
type MFAStatus struct {
	Enabled                bool       `json:"enabled"`
	Method                 MFAMethod  `json:"method,omitempty"`
	RecoveryCodesRemaining int        `json:"recovery_codes_remaining"`
	LockedUntil            *time.Time `json:"locked_until,omitempty"`
}

// MFAChallenge is a pending second-factor login.
type MFAChallenge struct {
	UserID    uuid.UUID `json:"user_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}
