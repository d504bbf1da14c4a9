package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// TenantStore persists tenants.
type TenantStore interface {
	Create(ctx context.Context, t *domain.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)
	GetByDomain(ctx context.Context, domainName string) (*domain.Tenant, error)
	List(ctx context.Context, filter domain.TenantFilter) ([]*domain.Tenant, int, error)
	Update(ctx context.Context, t *domain.Tenant) error
	SetStatus(ctx context.Context, id uuid.UUID, status domain.TenantStatus) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// TenantCache caches domain to tenant lookups for request resolution.
type TenantCache interface {
	Get(ctx context.Context, domainName string) (*domain.Tenant, bool)
	Set(ctx context.Context, t *domain.Tenant)
	Delete(ctx context.Context, domainName string)
}

// TenantConfig holds tenant provisioning defaults.
type TenantConfig struct {
	TrialDuration time.Duration
	TrialPlanSlug string
	LookupTimeout time.Duration
}

// TenantService manages tenants.
type TenantService struct {
	config        TenantConfig
	tx            TxRunner
	tenants       TenantStore
	subscriptions SubscriptionStore
	sessions      SessionRevoker
	cache         TenantCache
	logger        *slog.Logger
	now           func() time.Time
}

// NewTenantService creates a tenant service. sessions and cache may be nil.
func NewTenantService(cfg TenantConfig, tx TxRunner, tenants TenantStore, subscriptions SubscriptionStore, sessions SessionRevoker, cache TenantCache, logger *slog.Logger) *TenantService {
	if cfg.TrialDuration == 0 {
		cfg.TrialDuration = 14 * 24 * time.Hour
	}
	if cfg.TrialPlanSlug == "" {
		cfg.TrialPlanSlug = "trial"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantService{
		config:        cfg,
		tx:            tx,
		tenants:       tenants,
		subscriptions: subscriptions,
		sessions:      sessions,
		cache:         cache,
		logger:        logger,
		now:           time.Now,
	}
}

// CreateTenantInput describes a tenant provisioned by a super admin.
type CreateTenantInput struct {
	Name         string
	Domain       string
	ContactEmail string
	ContactPhone string
	Status       domain.TenantStatus
	PlanSlug     string
	Settings     domain.TenantSettings
}

// Create provisions a tenant together with its subscription.
func (s *TenantService) Create(ctx context.Context, scope domain.Scope, in CreateTenantInput) (*domain.Tenant, error) {
	if !scope.IsSuperAdmin() {
		return nil, domain.ErrInsufficientRole
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Validation("tenant name is required")
	}
	tenantDomain, err := domain.NormalizeTenantDomain(in.Domain)
	if err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = domain.TenantStatusTrial
	}
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	if in.Settings.MaxUsers < 0 || in.Settings.MaxAdmins < 0 {
		return nil, domain.Validation("seat limits must not be negative")
	}
	contactEmail, err := auth.EmailRules{}.CheckOptional("contact email", in.ContactEmail)
	if err != nil {
		return nil, err
	}
	planSlug := in.PlanSlug
	if planSlug == "" {
		planSlug = s.config.TrialPlanSlug
	}

	plan, err := withTimeout(ctx, s.config.LookupTimeout, func(ctx context.Context) (*domain.SubscriptionPlan, error) {
		return s.subscriptions.GetPlanBySlug(ctx, planSlug)
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	tenant := &domain.Tenant{
		ID:           uuid.New(),
		Name:         name,
		Domain:       tenantDomain,
		Status:       status,
		ContactEmail: contactEmail,
		ContactPhone: strings.TrimSpace(in.ContactPhone),
		Settings:     in.Settings,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sub := &domain.Subscription{
		ID:                 uuid.New(),
		TenantID:           tenant.ID,
		PlanID:             plan.ID,
		Status:             domain.SubscriptionActive,
		CurrentPeriodStart: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if status == domain.TenantStatusTrial {
		trialEnds := now.Add(s.config.TrialDuration)
		tenant.TrialEndsAt = &trialEnds
		sub.Status = domain.SubscriptionTrialing
		sub.CurrentPeriodEnd = &trialEnds
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.tenants.Create(ctx, tenant); err != nil {
			return err
		}
		if err := s.subscriptions.Create(ctx, sub); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("tenant created", "tenant_id", tenant.ID, "domain", tenant.Domain, "plan", plan.Slug, "by", scope.UserID)
	return tenant, nil
}

// List returns tenants. Super admin only.
func (s *TenantService) List(ctx context.Context, scope domain.Scope, filter domain.TenantFilter) (*domain.List[*domain.Tenant], error) {
	if !scope.IsSuperAdmin() {
		return nil, domain.ErrInsufficientRole
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	filter.Page = filter.Page.Normalize()
	tenants, total, err := s.tenants.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return listOf(tenants, total, filter.Page), nil
}

// Get returns a tenant visible to scope.
func (s *TenantService) Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Tenant, error) {
	if !scope.CanAccessTenant(id) {
		return nil, domain.ErrTenantNotFound
	}
	return s.tenants.GetByID(ctx, id)
}

// Update applies changes to a tenant. Tenant admins may only change the
// contact fields of their own tenant.
func (s *TenantService) Update(ctx context.Context, scope domain.Scope, id uuid.UUID, upd domain.TenantUpdate) (*domain.Tenant, error) {
	if !scope.IsSuperAdmin() {
		if err := scope.RequireRole(domain.RoleTenantAdmin); err != nil {
			return nil, err
		}
		if upd.Name != nil || upd.Settings != nil || upd.TrialEndsAt != nil {
			return nil, domain.Forbidden("only contact details can be changed")
		}
	}

	tenant, err := s.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, domain.Validation("tenant name is required")
		}
		tenant.Name = name
	}
	if upd.ContactEmail != nil {
		contactEmail, err := auth.EmailRules{}.CheckOptional("contact email", *upd.ContactEmail)
		if err != nil {
			return nil, err
		}
		tenant.ContactEmail = contactEmail
	}
	if upd.ContactPhone != nil {
		tenant.ContactPhone = strings.TrimSpace(*upd.ContactPhone)
	}
	if upd.Settings != nil {
		if upd.Settings.MaxUsers < 0 || upd.Settings.MaxAdmins < 0 {
			return nil, domain.Validation("seat limits must not be negative")
		}
		tenant.Settings = *upd.Settings
	}
	if upd.TrialEndsAt != nil {
		tenant.TrialEndsAt = upd.TrialEndsAt
	}

	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, err
	}
	tenant.UpdatedAt = s.now()
	s.invalidate(ctx, tenant.Domain)
	return tenant, nil
}

// SetStatus changes a tenant's lifecycle status. Suspension blocks sign-in
// without touching tenant data.
func (s *TenantService) SetStatus(ctx context.Context, scope domain.Scope, id uuid.UUID, status domain.TenantStatus) error {
	if !scope.IsSuperAdmin() {
		return domain.ErrInsufficientRole
	}
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.tenants.SetStatus(ctx, id, status); err != nil {
		return err
	}
	s.invalidate(ctx, tenant.Domain)
	if status == domain.TenantStatusSuspended {
		s.signOut(ctx, id)
	}
	s.logger.Info("tenant status changed", "tenant_id", id, "from", tenant.Status, "to", status, "by", scope.UserID)
	return nil
}

// Delete soft-deletes a tenant.
func (s *TenantService) Delete(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	if !scope.IsSuperAdmin() {
		return domain.ErrInsufficientRole
	}
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.tenants.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, tenant.Domain)
	s.signOut(ctx, id)
	s.logger.Info("tenant deleted", "tenant_id", id, "by", scope.UserID)
	return nil
}

// signOut ends every session bound to the tenant. Refresh re-checks tenant
// status, so a failure here is logged rather than returned.
func (s *TenantService) signOut(ctx context.Context, tenantID uuid.UUID) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.RevokeAllByTenant(ctx, tenantID); err != nil {
		s.logger.Error("failed to revoke tenant sessions", "tenant_id", tenantID, "error", err)
	}
}

// ResolveByDomain maps a request's tenant domain to a live tenant.
func (s *TenantService) ResolveByDomain(ctx context.Context, name string) (*domain.Tenant, error) {
	tenantDomain, err := domain.NormalizeTenantDomain(name)
	if err != nil {
		return nil, domain.ErrTenantNotFound
	}
	if s.cache != nil {
		if t, ok := s.cache.Get(ctx, tenantDomain); ok {
			return t, nil
		}
	}
	t, err := s.tenants.GetByDomain(ctx, tenantDomain)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, t)
	}
	return t, nil
}

func (s *TenantService) invalidate(ctx context.Context, tenantDomain string) {
	if s.cache != nil {
		s.cache.Delete(ctx, tenantDomain)
	}
}
