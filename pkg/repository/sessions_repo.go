package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const sessionColumns = `id, user_id, tenant_id, impersonation_id, token_hash, created_at, expires_at,
	revoked_at, last_seen_at, metadata`

// SessionsRepository handles session persistence.
type SessionsRepository struct {
	db *sql.DB
}

// NewSessionsRepository creates a new sessions repository.
func NewSessionsRepository(db *sql.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	session := &domain.Session{}
	err := row.Scan(
		&session.ID, &session.UserID, &session.TenantID, &session.ImpersonationID, &session.TokenHash,
		&session.CreatedAt, &session.ExpiresAt, &session.RevokedAt,
		&session.LastSeenAt, &session.Metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// Create creates a new session.
func (r *SessionsRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, tenant_id, impersonation_id, token_hash, created_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query,
		session.ID, session.UserID, session.TenantID, session.ImpersonationID, session.TokenHash,
		session.CreatedAt, session.ExpiresAt, []byte(session.Metadata),
	)
	return err
}

// GetByTokenHash retrieves an unrevoked session by token hash.
func (r *SessionsRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1 AND revoked_at IS NULL`
	return scanSession(querier(ctx, r.db).QueryRowContext(ctx, query, tokenHash))
}

// Revoke revokes a session.
func (r *SessionsRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrSessionNotFound)
}

// RevokeByTokenHash revokes a session by token hash.
func (r *SessionsRepository) RevokeByTokenHash(ctx context.Context, tokenHash string) error {
	query := `UPDATE sessions SET revoked_at = NOW() WHERE token_hash = $1 AND revoked_at IS NULL`
	_, err := querier(ctx, r.db).ExecContext(ctx, query, tokenHash)
	return err
}

// RevokeAllByUserID revokes all sessions for a user.
func (r *SessionsRepository) RevokeAllByUserID(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`
	_, err := querier(ctx, r.db).ExecContext(ctx, query, userID)
	return err
}

// RevokeAllByTenant revokes every session bound to a tenant.
func (r *SessionsRepository) RevokeAllByTenant(ctx context.Context, tenantID uuid.UUID) error {
	query := `UPDATE sessions SET revoked_at = NOW() WHERE tenant_id = $1 AND revoked_at IS NULL`
	_, err := querier(ctx, r.db).ExecContext(ctx, query, tenantID)
	return err
}

// RevokeByImpersonation revokes the sessions issued for an impersonation.
func (r *SessionsRepository) RevokeByImpersonation(ctx context.Context, impersonationID uuid.UUID) error {
	query := `UPDATE sessions SET revoked_at = NOW() WHERE impersonation_id = $1 AND revoked_at IS NULL`
	_, err := querier(ctx, r.db).ExecContext(ctx, query, impersonationID)
	return err
}

// IsActive reports whether the session exists, is unrevoked and unexpired.
func (r *SessionsRepository) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1 AND revoked_at IS NULL AND expires_at > NOW())`
	var ok bool
	err := querier(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&ok)
	return ok, err
}

// UpdateLastSeen updates the last_seen_at timestamp.
func (r *SessionsRepository) UpdateLastSeen(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET last_seen_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	_, err := querier(ctx, r.db).ExecContext(ctx, query, id)
	return err
}

// DeleteExpired deletes sessions that expired or were revoked more than olderThan ago.
func (r *SessionsRepository) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM sessions
		WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`
	cutoff := time.Now().Add(-olderThan)
	res, err := querier(ctx, r.db).ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
