package users

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
	"github.com/tendant/immigration-portal/pkg/service"
)

// Service is the part of service.UserService the handler uses.
type Service interface {
	List(ctx context.Context, scope domain.Scope, filter domain.UserFilter) (*domain.List[*domain.User], error)
	Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.User, error)
	Create(ctx context.Context, scope domain.Scope, in service.CreateUserInput) (*service.CreateUserResult, error)
	Update(ctx context.Context, scope domain.Scope, id uuid.UUID, upd service.UserUpdate) (*domain.User, error)
	Deactivate(ctx context.Context, scope domain.Scope, id uuid.UUID) error
	Reactivate(ctx context.Context, scope domain.Scope, id uuid.UUID) error
}

// Handler handles user management endpoints.
type Handler struct {
	logger *slog.Logger
	users  Service
}

func NewHandler(logger *slog.Logger, users Service) *Handler {
	return &Handler{logger: logger, users: users}
}

// CreateRequest represents a user created by an administrator.
type CreateRequest struct {
	Email     string      `json:"email"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Role      domain.Role `json:"role"`
	TenantID  *uuid.UUID  `json:"tenant_id,omitempty"`
	Password  string      `json:"password,omitempty"`
}

// CreateResponse carries the temporary password when one was generated.
type CreateResponse struct {
	User              *common.UserView `json:"user"`
	TemporaryPassword string           `json:"temporary_password,omitempty"`
}

// UpdateRequest represents a user update.
type UpdateRequest struct {
	FirstName *string      `json:"first_name,omitempty"`
	LastName  *string      `json:"last_name,omitempty"`
	Role      *domain.Role `json:"role,omitempty"`
}

// List handles GET /v1/users?role=&search=&is_active=&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := domain.UserFilter{
		Role:   domain.Role(q.Get("role")),
		Search: q.Get("search"),
		Page:   httputil.ParsePage(r),
	}
	if v := q.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "is_active must be true or false")
			return
		}
		filter.IsActive = &active
	}

	list, err := h.users.List(r.Context(), scope, filter)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.MapList(list, common.NewUserView))
}

// Create handles POST /v1/users
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
	if req.Role == "" {
		req.Role = domain.RoleUser
	}

	res, err := h.users.Create(r.Context(), scope, service.CreateUserInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
		TenantID:  req.TenantID,
		Password:  req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusCreated, CreateResponse{
		User:              common.NewUserView(res.User),
		TemporaryPassword: res.TemporaryPassword,
	})
}

// Get handles GET /v1/users/{id}
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

	user, err := h.users.Get(r.Context(), scope, id)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.NewUserView(user))
}

// Update handles PATCH /v1/users/{id}
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

	var req UpdateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	user, err := h.users.Update(r.Context(), scope, id, service.UserUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.NewUserView(user))
}

// Deactivate handles POST /v1/users/{id}/deactivate
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// Reactivate handles POST /v1/users/{id}/reactivate
func (h *Handler) Reactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := httputil.URLParamUUID(r, "id")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	if active {
		err = h.users.Reactivate(r.Context(), scope, id)
	} else {
		err = h.users.Deactivate(r.Context(), scope, id)
	}
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	if active {
		httputil.Message(w, http.StatusOK, "user reactivated")
		return
	}
	httputil.Message(w, http.StatusOK, "user deactivated")
}
