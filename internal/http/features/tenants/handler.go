package tenants

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
	"github.com/tendant/immigration-portal/pkg/service"
)

// Service is the part of service.TenantService the handler uses.
type Service interface {
	Create(ctx context.Context, scope domain.Scope, in service.CreateTenantInput) (*domain.Tenant, error)
	List(ctx context.Context, scope domain.Scope, filter domain.TenantFilter) (*domain.List[*domain.Tenant], error)
	Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Tenant, error)
	Update(ctx context.Context, scope domain.Scope, id uuid.UUID, upd domain.TenantUpdate) (*domain.Tenant, error)
	SetStatus(ctx context.Context, scope domain.Scope, id uuid.UUID, status domain.TenantStatus) error
	Delete(ctx context.Context, scope domain.Scope, id uuid.UUID) error
}

// Handler handles tenant administration. The /tenants routes are for super
// admins; /tenant addresses the caller's own firm.
type Handler struct {
	logger  *slog.Logger
	tenants Service
}

func NewHandler(logger *slog.Logger, tenants Service) *Handler {
	return &Handler{logger: logger, tenants: tenants}
}

// CreateRequest provisions a tenant.
type CreateRequest struct {
	Name         string                `json:"name"`
	Domain       string                `json:"domain"`
	ContactEmail string                `json:"contact_email,omitempty"`
	ContactPhone string                `json:"contact_phone,omitempty"`
	Status       domain.TenantStatus   `json:"status,omitempty"`
	PlanSlug     string                `json:"plan,omitempty"`
	Settings     domain.TenantSettings `json:"settings"`
}

// UpdateRequest carries optional tenant changes.
type UpdateRequest struct {
	Name         *string                `json:"name,omitempty"`
	ContactEmail *string                `json:"contact_email,omitempty"`
	ContactPhone *string                `json:"contact_phone,omitempty"`
	Settings     *domain.TenantSettings `json:"settings,omitempty"`
	TrialEndsAt  *time.Time             `json:"trial_ends_at,omitempty"`
}

// StatusRequest changes a tenant's lifecycle status.
type StatusRequest struct {
	Status domain.TenantStatus `json:"status"`
}

func (u UpdateRequest) toDomain() domain.TenantUpdate {
	return domain.TenantUpdate{
		Name:         u.Name,
		ContactEmail: u.ContactEmail,
		ContactPhone: u.ContactPhone,
		Settings:     u.Settings,
		TrialEndsAt:  u.TrialEndsAt,
	}
}

// List handles GET /v1/tenants?status=&search=&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	list, err := h.tenants.List(r.Context(), scope, domain.TenantFilter{
		Status: domain.TenantStatus(q.Get("status")),
		Search: q.Get("search"),
		Page:   httputil.ParsePage(r),
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.MapList(list, common.NewTenantView))
}

// Create handles POST /v1/tenants
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	tenant, err := h.tenants.Create(r.Context(), scope, service.CreateTenantInput{
		Name:         req.Name,
		Domain:       req.Domain,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		Status:       req.Status,
		PlanSlug:     req.PlanSlug,
		Settings:     req.Settings,
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, common.NewTenantView(tenant))
}

// Get handles GET /v1/tenants/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := httputil.URLParamUUID(r, "id")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	h.get(w, r, scope, id)
}

// Update handles PATCH /v1/tenants/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := httputil.URLParamUUID(r, "id")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	h.update(w, r, scope, id)
}

// SetStatus handles POST /v1/tenants/{id}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := httputil.URLParamUUID(r, "id")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	var req StatusRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	if err := h.tenants.SetStatus(r.Context(), scope, id, req.Status); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.Message(w, http.StatusOK, "tenant status updated")
}

// Delete handles DELETE /v1/tenants/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := httputil.URLParamUUID(r, "id")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	if err := h.tenants.Delete(r.Context(), scope, id); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetOwn handles GET /v1/tenant
func (h *Handler) GetOwn(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := scope.RequireTenant()
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	h.get(w, r, scope, id)
}

// UpdateOwn handles PATCH /v1/tenant
func (h *Handler) UpdateOwn(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := scope.RequireTenant()
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	h.update(w, r, scope, id)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, scope domain.Scope, id uuid.UUID) {
	tenant, err := h.tenants.Get(r.Context(), scope, id)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.NewTenantView(tenant))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, scope domain.Scope, id uuid.UUID) {
	var req UpdateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	tenant, err := h.tenants.Update(r.Context(), scope, id, req.toDomain())
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.NewTenantView(tenant))
}
