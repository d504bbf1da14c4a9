package subscriptions

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// Service is the part of service.SubscriptionService the handler uses.
type Service interface {
	ListPlans(ctx context.Context) ([]*domain.SubscriptionPlan, error)
	Current(ctx context.Context, scope domain.Scope) (*domain.Subscription, error)
	Usage(ctx context.Context, scope domain.Scope) (*domain.Usage, error)
	ChangePlan(ctx context.Context, scope domain.Scope, planSlug string) (*domain.Subscription, error)
	Cancel(ctx context.Context, scope domain.Scope) error
}

// Handler handles plan and subscription endpoints.
type Handler struct {
	logger        *slog.Logger
	subscriptions Service
}

func NewHandler(logger *slog.Logger, subscriptions Service) *Handler {
	return &Handler{logger: logger, subscriptions: subscriptions}
}

// PlanView is the public shape of a plan. Zero limits mean unlimited.
type PlanView struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	PriceCents int64     `json:"price_cents"`
	Interval   string    `json:"interval"`
	MaxUsers   int       `json:"max_users"`
	MaxAdmins  int       `json:"max_admins"`
	Features   []string  `json:"features"`
}

func newPlanView(p *domain.SubscriptionPlan) *PlanView {
	if p == nil {
		return nil
	}
	features := p.Features
	if features == nil {
		features = []string{}
	}
	return &PlanView{
		ID:         p.ID,
		Name:       p.Name,
		Slug:       p.Slug,
		PriceCents: p.PriceCents,
		Interval:   p.Interval,
		MaxUsers:   p.MaxUsers,
		MaxAdmins:  p.MaxAdmins,
		Features:   features,
	}
}

// SubscriptionView is a tenant's subscription with its plan and seat usage.
type SubscriptionView struct {
	ID                 uuid.UUID                 `json:"id"`
	TenantID           uuid.UUID                 `json:"tenant_id"`
	Status             domain.SubscriptionStatus `json:"status"`
	Plan               *PlanView                 `json:"plan,omitempty"`
	CurrentPeriodStart time.Time                 `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time                `json:"current_period_end,omitempty"`
	CancelledAt        *time.Time                `json:"cancelled_at,omitempty"`
	Usage              *domain.Usage             `json:"usage,omitempty"`
}

func newSubscriptionView(s *domain.Subscription, usage *domain.Usage) SubscriptionView {
	return SubscriptionView{
		ID:                 s.ID,
		TenantID:           s.TenantID,
		Status:             s.Status,
		Plan:               newPlanView(s.Plan),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelledAt:        s.CancelledAt,
		Usage:              usage,
	}
}

// ChangePlanRequest selects a plan by slug.
type ChangePlanRequest struct {
	Plan string `json:"plan"`
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.subscriptions.ListPlans(r.Context())
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	views := make([]*PlanView, 0, len(plans))
	for _, p := range plans {
		views = append(views, newPlanView(p))
	}
	httputil.JSON(w, http.StatusOK, views)
}

// Current handles GET /v1/subscription
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	h.writeCurrent(w, r, scope, http.StatusOK)
}

// ChangePlan handles POST /v1/subscription/plan
func (h *Handler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	if _, err := h.subscriptions.ChangePlan(r.Context(), scope, req.Plan); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	h.writeCurrent(w, r, scope, http.StatusOK)
}

// Cancel handles POST /v1/subscription/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	if err := h.subscriptions.Cancel(r.Context(), scope); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.Message(w, http.StatusOK, "subscription cancelled")
}

func (h *Handler) writeCurrent(w http.ResponseWriter, r *http.Request, scope domain.Scope, status int) {
	sub, err := h.subscriptions.Current(r.Context(), scope)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	usage, err := h.subscriptions.Usage(r.Context(), scope)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, status, newSubscriptionView(sub, usage))
}
