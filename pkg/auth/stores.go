package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// The interfaces below are the slices of pkg/repository the auth services
// depend on. The repository types satisfy them directly.

type UserStore interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, lockout time.Duration, maxAttempts int) error
	RecordLogin(ctx context.Context, userID uuid.UUID) error
	UpdateMFAEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error
	MarkPasswordChanged(ctx context.Context, userID uuid.UUID, mustChange bool) error
}

type CredentialStore interface {
	Upsert(ctx context.Context, cred *domain.UserPassword) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserPassword, error)
}

type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeByTokenHash(ctx context.Context, tokenHash string) error
	RevokeAllByUserID(ctx context.Context, userID uuid.UUID) error
	IsActive(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateLastSeen(ctx context.Context, id uuid.UUID) error
}

type MFASettingsStore interface {
	Upsert(ctx context.Context, s *domain.MFASettings) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.MFASettings, error)
	SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error
	RecordFailure(ctx context.Context, userID uuid.UUID, maxAttempts int, lockout time.Duration) (int, *time.Time, error)
	RecordSuccess(ctx context.Context, userID uuid.UUID) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

type RecoveryCodeStore interface {
	ReplaceAll(ctx context.Context, userID uuid.UUID, codes []*domain.MFARecoveryCode) error
	Consume(ctx context.Context, userID uuid.UUID, codeHash string) error
	CountUnused(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteForUser(ctx context.Context, userID uuid.UUID) error
}

type VerificationTokenStore interface {
	Create(ctx context.Context, token *domain.VerificationToken) error
	SupersedeOutstanding(ctx context.Context, userID uuid.UUID, purpose domain.TokenPurpose) error
	Redeem(ctx context.Context, hash string, purpose domain.TokenPurpose, now time.Time) (*domain.VerificationToken, error)
}

type TenantStore interface {
	Create(ctx context.Context, t *domain.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetByDomain(ctx context.Context, domainName string) (*domain.Tenant, error)
}

type SubscriptionStore interface {
	GetPlanBySlug(ctx context.Context, slug string) (*domain.SubscriptionPlan, error)
	Create(ctx context.Context, s *domain.Subscription) error
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error)
	AdjustUsage(ctx context.Context, tenantID uuid.UUID, users, admins, maxUsers, maxAdmins int) error
}

// TxRunner runs fn inside one database transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
