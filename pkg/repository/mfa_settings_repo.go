package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// MFASettingsRepository handles a user's second factor and its lockout counters.
type MFASettingsRepository struct {
	db *sql.DB
}

// NewMFASettingsRepository creates a new MFA settings repository.
func NewMFASettingsRepository(db *sql.DB) *MFASettingsRepository {
	return &MFASettingsRepository{db: db}
}

// Upsert stores a fresh, not yet enabled secret. Counters are cleared
// unless the replaced row is still locked.
func (r *MFASettingsRepository) Upsert(ctx context.Context, s *domain.MFASettings) error {
	query := `
		INSERT INTO mfa_settings (user_id, tenant_id, method, secret_encrypted, enabled, failed_attempts,
		                          locked_until, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, NULL, $6, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET method = EXCLUDED.method, secret_encrypted = EXCLUDED.secret_encrypted,
		    enabled = EXCLUDED.enabled,
		    failed_attempts = CASE WHEN mfa_settings.locked_until > NOW() THEN mfa_settings.failed_attempts ELSE 0 END,
		    locked_until = CASE WHEN mfa_settings.locked_until > NOW() THEN mfa_settings.locked_until END,
		    updated_at = EXCLUDED.updated_at
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query,
		s.UserID, s.TenantID, s.Method, s.SecretEncrypted, s.Enabled, s.CreatedAt)
	return err
}

// GetByUserID retrieves MFA settings for a user.
func (r *MFASettingsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.MFASettings, error) {
	query := `
		SELECT user_id, tenant_id, method, secret_encrypted, enabled, failed_attempts, locked_until,
		       last_used_at, created_at, updated_at
		FROM mfa_settings
		WHERE user_id = $1
	`
	s := &domain.MFASettings{}
	err := querier(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(
		&s.UserID, &s.TenantID, &s.Method, &s.SecretEncrypted, &s.Enabled, &s.FailedAttempts,
		&s.LockedUntil, &s.LastUsedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMFANotSetup
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetEnabled flips the enabled flag.
func (r *MFASettingsRepository) SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	query := `UPDATE mfa_settings SET enabled = $2, updated_at = NOW() WHERE user_id = $1`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, userID, enabled)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrMFANotSetup)
}

// RecordFailure increments the failure counter, locking the factor for
// lockout once maxAttempts is reached. A lapsed lock restarts the count.
// It returns the updated counters.
func (r *MFASettingsRepository) RecordFailure(ctx context.Context, userID uuid.UUID, maxAttempts int, lockout time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE mfa_settings m
		SET failed_attempts = n.attempts,
		    locked_until = CASE
		        WHEN n.attempts >= $2 THEN NOW() + make_interval(secs => $3)
		        WHEN n.lapsed THEN NULL
		        ELSE m.locked_until
		    END,
		    updated_at = NOW()
		FROM (
		    SELECT user_id, COALESCE(locked_until <= NOW(), FALSE) AS lapsed,
		           CASE WHEN locked_until <= NOW() THEN 1 ELSE failed_attempts + 1 END AS attempts
		    FROM mfa_settings
		    WHERE user_id = $1
		    FOR UPDATE
		) n
		WHERE m.user_id = n.user_id
		RETURNING m.failed_attempts, m.locked_until
	`
	var attempts int
	var lockedUntil *time.Time
	err := querier(ctx, r.db).QueryRowContext(ctx, query, userID, maxAttempts, lockout.Seconds()).Scan(&attempts, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, domain.ErrMFANotSetup
	}
	return attempts, lockedUntil, err
}

// RecordSuccess clears the failure counter and stamps last use.
func (r *MFASettingsRepository) RecordSuccess(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE mfa_settings
		SET failed_attempts = 0, locked_until = NULL, last_used_at = NOW(), updated_at = NOW()
		WHERE user_id = $1
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query, userID)
	return err
}

// Delete removes a user's MFA settings.
func (r *MFASettingsRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := querier(ctx, r.db).ExecContext(ctx, `DELETE FROM mfa_settings WHERE user_id = $1`, userID)
	return err
}
