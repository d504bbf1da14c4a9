package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// SubscriptionStore persists plans and tenant subscriptions.
type SubscriptionStore interface {
	ListPlans(ctx context.Context) ([]*domain.SubscriptionPlan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*domain.SubscriptionPlan, error)
	Create(ctx context.Context, s *domain.Subscription) error
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error)
	AdjustUsage(ctx context.Context, tenantID uuid.UUID, users, admins, maxUsers, maxAdmins int) error
	ChangePlan(ctx context.Context, tenantID, planID uuid.UUID, status domain.SubscriptionStatus, periodEnd *time.Time) error
	SetStatus(ctx context.Context, tenantID uuid.UUID, status domain.SubscriptionStatus) error
}

// TrialLister finds trials that have run out.
type TrialLister interface {
	ListExpiredTrials(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// SubscriptionService exposes plans and the caller's tenant subscription.
type SubscriptionService struct {
	timeout       time.Duration
	subscriptions SubscriptionStore
	tenants       TenantStore
	logger        *slog.Logger
	now           func() time.Time
}

// NewSubscriptionService creates a subscription service. A zero timeout
// uses DefaultLookupTimeout.
func NewSubscriptionService(timeout time.Duration, subscriptions SubscriptionStore, tenants TenantStore, logger *slog.Logger) *SubscriptionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionService{
		timeout:       timeout,
		subscriptions: subscriptions,
		tenants:       tenants,
		logger:        logger,
		now:           time.Now,
	}
}

// ListPlans returns the active plans.
func (s *SubscriptionService) ListPlans(ctx context.Context) ([]*domain.SubscriptionPlan, error) {
	plans, err := withTimeout(ctx, s.timeout, s.subscriptions.ListPlans)
	if err != nil {
		return nil, err
	}
	active := make([]*domain.SubscriptionPlan, 0, len(plans))
	for _, p := range plans {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}

// Current returns the subscription of the scope's tenant with its plan.
func (s *SubscriptionService) Current(ctx context.Context, scope domain.Scope) (*domain.Subscription, error) {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}
	return s.lookup(ctx, tenantID)
}

// Usage reports seat consumption against the effective limits.
func (s *SubscriptionService) Usage(ctx context.Context, scope domain.Scope) (*domain.Usage, error) {
	sub, err := s.Current(ctx, scope)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.GetByID(ctx, sub.TenantID)
	if err != nil {
		return nil, err
	}
	maxUsers, maxAdmins := domain.SeatLimits(sub.Plan, tenant.Settings)
	return &domain.Usage{
		CurrentUsers:  sub.CurrentUsers,
		MaxUsers:      maxUsers,
		CurrentAdmins: sub.CurrentAdmins,
		MaxAdmins:     maxAdmins,
	}, nil
}

// ChangePlan moves the scope's tenant to another plan. Plans whose limits
// are below current usage are refused.
func (s *SubscriptionService) ChangePlan(ctx context.Context, scope domain.Scope, planSlug string) (*domain.Subscription, error) {
	if err := scope.RequireRole(domain.RoleTenantAdmin); err != nil {
		return nil, err
	}
	if planSlug == "" {
		return nil, domain.Validation("plan is required")
	}
	sub, err := s.Current(ctx, scope)
	if err != nil {
		return nil, err
	}
	plan, err := withTimeout(ctx, s.timeout, func(ctx context.Context) (*domain.SubscriptionPlan, error) {
		return s.subscriptions.GetPlanBySlug(ctx, planSlug)
	})
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, domain.ErrPlanNotFound
	}

	tenant, err := s.tenants.GetByID(ctx, sub.TenantID)
	if err != nil {
		return nil, err
	}
	maxUsers, maxAdmins := domain.SeatLimits(plan, tenant.Settings)
	if (maxUsers > 0 && sub.CurrentUsers > maxUsers) || (maxAdmins > 0 && sub.CurrentAdmins > maxAdmins) {
		return nil, domain.ErrPlanDowngradeTooSmall
	}

	end := periodEnd(s.now(), plan.Interval)
	if err := s.subscriptions.ChangePlan(ctx, sub.TenantID, plan.ID, domain.SubscriptionActive, end); err != nil {
		return nil, err
	}
	s.logger.Info("subscription plan changed", "tenant_id", sub.TenantID, "plan", plan.Slug, "by", scope.UserID)
	return s.lookup(ctx, sub.TenantID)
}

// Cancel cancels the scope's tenant subscription.
func (s *SubscriptionService) Cancel(ctx context.Context, scope domain.Scope) error {
	if err := scope.RequireRole(domain.RoleTenantAdmin); err != nil {
		return err
	}
	sub, err := s.Current(ctx, scope)
	if err != nil {
		return err
	}
	if sub.Status == domain.SubscriptionCancelled {
		return domain.Conflict("subscription is already cancelled")
	}
	if err := s.subscriptions.SetStatus(ctx, sub.TenantID, domain.SubscriptionCancelled); err != nil {
		return err
	}
	s.logger.Info("subscription cancelled", "tenant_id", sub.TenantID, "by", scope.UserID)
	return nil
}

// ExpireTrials marks the subscriptions of tenants whose trial has ended as
// expired and returns how many were changed.
func (s *SubscriptionService) ExpireTrials(ctx context.Context, trials TrialLister) (int, error) {
	ids, err := trials.ListExpiredTrials(ctx, s.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		sub, err := s.lookup(ctx, id)
		if err != nil {
			s.logger.Warn("trial expiry lookup failed", "tenant_id", id, "error", err)
			continue
		}
		if sub.Status != domain.SubscriptionTrialing {
			continue
		}
		if err := s.subscriptions.SetStatus(ctx, id, domain.SubscriptionExpired); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *SubscriptionService) lookup(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	return withTimeout(ctx, s.timeout, func(ctx context.Context) (*domain.Subscription, error) {
		return s.subscriptions.GetByTenant(ctx, tenantID)
	})
}

func periodEnd(now time.Time, interval string) *time.Time {
	var end time.Time
	switch interval {
	case "month", "monthly":
		end = now.AddDate(0, 1, 0)
	case "year", "yearly", "annual":
		end = now.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &end
}
