package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const planColumns = `id, name, slug, price_cents, interval, max_users, max_admins, features, is_active, created_at`

// SubscriptionsRepository handles plans and tenant subscriptions.
type SubscriptionsRepository struct {
	db *sql.DB
}

// NewSubscriptionsRepository creates a new subscriptions repository.
func NewSubscriptionsRepository(db *sql.DB) *SubscriptionsRepository {
	return &SubscriptionsRepository{db: db}
}

func scanPlan(row interface{ Scan(...any) error }) (*domain.SubscriptionPlan, error) {
	p := &domain.SubscriptionPlan{}
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.PriceCents, &p.Interval, &p.MaxUsers, &p.MaxAdmins,
		pq.Array(&p.Features), &p.IsActive, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPlans returns the active plans ordered by price.
func (r *SubscriptionsRepository) ListPlans(ctx context.Context) ([]*domain.SubscriptionPlan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE is_active ORDER BY price_cents`
	rows, err := querier(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*domain.SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetPlan retrieves a plan by ID.
func (r *SubscriptionsRepository) GetPlan(ctx context.Context, id uuid.UUID) (*domain.SubscriptionPlan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1`
	return scanPlan(querier(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetPlanBySlug retrieves a plan by slug.
func (r *SubscriptionsRepository) GetPlanBySlug(ctx context.Context, slug string) (*domain.SubscriptionPlan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE slug = $1`
	return scanPlan(querier(ctx, r.db).QueryRowContext(ctx, query, slug))
}

// Create creates a tenant subscription.
func (r *SubscriptionsRepository) Create(ctx context.Context, s *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (id, tenant_id, plan_id, status, current_users, current_admins,
		                           current_period_start, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query,
		s.ID, s.TenantID, s.PlanID, s.Status, s.CurrentUsers, s.CurrentAdmins,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

// GetByTenant retrieves a tenant's subscription with its plan.
func (r *SubscriptionsRepository) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	query := `
		SELECT s.id, s.tenant_id, s.plan_id, s.status, s.current_users, s.current_admins,
		       s.current_period_start, s.current_period_end, s.cancelled_at, s.created_at, s.updated_at,
		       p.id, p.name, p.slug, p.price_cents, p.interval, p.max_users, p.max_admins, p.features, p.is_active, p.created_at
		FROM subscriptions s
		JOIN subscription_plans p ON p.id = s.plan_id
		WHERE s.tenant_id = $1
	`
	s := &domain.Subscription{Plan: &domain.SubscriptionPlan{}}
	p := s.Plan
	err := querier(ctx, r.db).QueryRowContext(ctx, query, tenantID).Scan(
		&s.ID, &s.TenantID, &s.PlanID, &s.Status, &s.CurrentUsers, &s.CurrentAdmins,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt,
		&p.ID, &p.Name, &p.Slug, &p.PriceCents, &p.Interval, &p.MaxUsers, &p.MaxAdmins,
		pq.Array(&p.Features), &p.IsActive, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AdjustUsage atomically applies seat deltas. Increments are refused when
// they would exceed a non-zero limit; the check and the write are a single
// statement so concurrent creations cannot overshoot.
func (r *SubscriptionsRepository) AdjustUsage(ctx context.Context, tenantID uuid.UUID, users, admins, maxUsers, maxAdmins int) error {
	query := `
		UPDATE subscriptions
		SET current_users = GREATEST(current_users + $2, 0),
		    current_admins = GREATEST(current_admins + $3, 0),
		    updated_at = NOW()
		WHERE tenant_id = $1
		  AND ($2 <= 0 OR $4 = 0 OR current_users + $2 <= $4)
		  AND ($3 <= 0 OR $5 = 0 OR current_admins + $3 <= $5)
	`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, tenantID, users, admins, maxUsers, maxAdmins)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var curUsers int
	err = querier(ctx, r.db).QueryRowContext(ctx, `SELECT current_users FROM subscriptions WHERE tenant_id = $1`, tenantID).Scan(&curUsers)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return err
	}
	if users > 0 && maxUsers > 0 && curUsers+users > maxUsers {
		return domain.ErrSubscriptionLimit
	}
	return domain.ErrAdminLimit
}

// ChangePlan moves a subscription to another plan and reactivates it.
func (r *SubscriptionsRepository) ChangePlan(ctx context.Context, tenantID, planID uuid.UUID, status domain.SubscriptionStatus, periodEnd *time.Time) error {
	query := `
		UPDATE subscriptions
		SET plan_id = $2, status = $3, cancelled_at = NULL,
		    current_period_start = NOW(), current_period_end = $4, updated_at = NOW()
		WHERE tenant_id = $1
	`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, tenantID, planID, status, periodEnd)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrSubscriptionNotFound)
}

// SetStatus changes a subscription's status.
func (r *SubscriptionsRepository) SetStatus(ctx context.Context, tenantID uuid.UUID, status domain.SubscriptionStatus) error {
	query := `
		UPDATE subscriptions
		SET status = $2,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN NOW() ELSE cancelled_at END,
		    updated_at = NOW()
		WHERE tenant_id = $1
	`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, tenantID, status)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrSubscriptionNotFound)
}
