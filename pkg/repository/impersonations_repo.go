package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const impersonationColumns = `id, impersonator_id, target_user_id, tenant_id, reason, risk_score, ip, user_agent,
	started_at, expires_at, ended_at`

// ImpersonationsRepository handles the impersonation audit trail.
type ImpersonationsRepository struct {
	db *sql.DB
}

// NewImpersonationsRepository creates a new impersonations repository.
func NewImpersonationsRepository(db *sql.DB) *ImpersonationsRepository {
	return &ImpersonationsRepository{db: db}
}

func scanImpersonation(row interface{ Scan(...any) error }) (*domain.Impersonation, error) {
	i := &domain.Impersonation{}
	err := row.Scan(&i.ID, &i.ImpersonatorID, &i.TargetUserID, &i.TenantID, &i.Reason, &i.RiskScore,
		&i.IP, &i.UserAgent, &i.StartedAt, &i.ExpiresAt, &i.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrImpersonationNotFound
	}
	if err != nil {
		return nil, err
	}
	return i, nil
}

// Create inserts an impersonation record.
func (r *ImpersonationsRepository) Create(ctx context.Context, i *domain.Impersonation) error {
	query := `
		INSERT INTO impersonations (id, impersonator_id, target_user_id, tenant_id, reason, risk_score,
		                            ip, user_agent, started_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query,
		i.ID, i.ImpersonatorID, i.TargetUserID, i.TenantID, i.Reason, i.RiskScore,
		i.IP, i.UserAgent, i.StartedAt, i.ExpiresAt)
	return err
}

// Get retrieves an impersonation visible to scope.
func (r *ImpersonationsRepository) Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Impersonation, error) {
	clause, args := tenantClause(scope, "tenant_id", []any{id})
	query := `SELECT ` + impersonationColumns + ` FROM impersonations WHERE id = $1 AND ` + clause
	return scanImpersonation(querier(ctx, r.db).QueryRowContext(ctx, query, args...))
}

// IsActive reports whether an impersonation is still in effect.
func (r *ImpersonationsRepository) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM impersonations WHERE id = $1 AND ended_at IS NULL AND expires_at > NOW())`
	var ok bool
	err := querier(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&ok)
	return ok, err
}

// List returns impersonations visible to scope, newest first.
func (r *ImpersonationsRepository) List(ctx context.Context, scope domain.Scope, activeOnly bool, page domain.Page) ([]*domain.Impersonation, int, error) {
	clause, args := tenantClause(scope, "tenant_id", nil)
	where := clause
	if activeOnly {
		where += " AND ended_at IS NULL AND expires_at > NOW()"
	}

	var total int
	if err := querier(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM impersonations WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page = page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM impersonations WHERE %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		impersonationColumns, where, len(args)-1, len(args))
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.Impersonation
	for rows.Next() {
		i, err := scanImpersonation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, i)
	}
	return out, total, rows.Err()
}

// End closes an active impersonation visible to scope.
func (r *ImpersonationsRepository) End(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	clause, args := tenantClause(scope, "tenant_id", []any{id})
	query := `UPDATE impersonations SET ended_at = NOW() WHERE id = $1 AND ended_at IS NULL AND ` + clause
	res, err := querier(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrImpersonationNotFound)
}

// EndExpired closes impersonations past their expiry and returns their ids.
func (r *ImpersonationsRepository) EndExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE impersonations SET ended_at = expires_at
		WHERE ended_at IS NULL AND expires_at <= $1
		RETURNING id
	`
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
