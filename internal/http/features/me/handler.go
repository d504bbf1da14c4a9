package me

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
	"github.com/tendant/immigration-portal/pkg/service"
)

// Users is the part of service.UserService the handler uses.
type Users interface {
	Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.User, error)
	Update(ctx context.Context, scope domain.Scope, id uuid.UUID, upd service.UserUpdate) (*domain.User, error)
}

// Tenants loads the caller's tenant.
type Tenants interface {
	Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Tenant, error)
}

// Handler handles user profile endpoints.
type Handler struct {
	logger  *slog.Logger
	users   Users
	tenants Tenants
}

// NewHandler creates a new me handler.
func NewHandler(logger *slog.Logger, users Users, tenants Tenants) *Handler {
	return &Handler{
		logger:  logger,
		users:   users,
		tenants: tenants,
	}
}

// ImpersonationInfo tells the client whose session it is really holding.
type ImpersonationInfo struct {
	ImpersonationID uuid.UUID `json:"impersonation_id"`
	ImpersonatorID  uuid.UUID `json:"impersonator_id"`
}

// MeResponse represents the current user's profile response.
type MeResponse struct {
	User          *common.UserView   `json:"user"`
	Tenant        *common.TenantView `json:"tenant,omitempty"`
	Impersonation *ImpersonationInfo `json:"impersonation,omitempty"`
}

// UpdateRequest represents a profile update request.
type UpdateRequest struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// GetMe returns the current user's profile.
// GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	user, err := h.users.Get(r.Context(), scope, scope.UserID)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	resp := MeResponse{User: common.NewUserView(user)}
	if scope.TenantID != nil {
		tenant, err := h.tenants.Get(r.Context(), scope, *scope.TenantID)
		if err != nil {
			httputil.WriteError(w, r, h.logger, err)
			return
		}
		resp.Tenant = common.NewTenantView(tenant)
	}
	if scope.IsImpersonating() {
		resp.Impersonation = &ImpersonationInfo{
			ImpersonationID: *scope.ImpersonationID,
			ImpersonatorID:  *scope.ImpersonatorID,
		}
	}

	httputil.JSON(w, http.StatusOK, resp)
}

// UpdateMe updates the current user's name.
// PATCH /v1/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	user, err := h.users.Update(r.Context(), scope, scope.UserID, service.UserUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, common.NewUserView(user))
}
