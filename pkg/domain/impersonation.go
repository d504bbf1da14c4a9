package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	DefaultImpersonationDuration = time.Hour
	MaxImpersonationDuration     = 4 * time.Hour
	minImpersonationReasonLen    = 10
)

// Impersonation records a privileged user acting as another user.
type Impersonation struct {
	ID             uuid.UUID
	ImpersonatorID uuid.UUID
	TargetUserID   uuid.UUID
	TenantID       *uuid.UUID
	Reason         string
	RiskScore      int
	IP             string
	UserAgent      string
	StartedAt      time.Time
	ExpiresAt      time.Time
	EndedAt        *time.Time
}

// IsActive reports whether the impersonation is still in effect at now.
func (i *Impersonation) IsActive(now time.Time) bool {
	return i.EndedAt == nil && now.Before(i.ExpiresAt)
}

// RiskLevel buckets the score.
func (i *Impersonation) RiskLevel() string {
	return RiskLevel(i.RiskScore)
}

// RiskFactors are the inputs to the impersonation risk score.
type RiskFactors struct {
	CrossTenant bool
	TargetRole  Role
	Duration    time.Duration
	StartedAt   time.Time
	Reason      string
}

// ComputeRiskScore scores an impersonation request from 0 to 100.
func ComputeRiskScore(f RiskFactors) int {
	score := 0
	if f.CrossTenant {
		score += 30
	}
	if f.TargetRole.IsAdmin() {
		score += 25
	}
	if f.Duration > time.Hour {
		score += 15
	}
	if h := f.StartedAt.UTC().Hour(); h < 7 || h >= 20 {
		score += 10
	}
	if len([]rune(f.Reason)) < minImpersonationReasonLen {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}

// RiskLevel buckets a risk score into low, medium or high.
func RiskLevel(score int) string {
	switch {
	case score < 30:
		return "low"
	case score < 60:
		return "medium"
	default:
		return "high"
	}
}
