package apikeys

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

type Service interface {
	Create(ctx context.Context, scope domain.Scope, in service.CreateAPIKeyInput) (*domain.APIKey, string, error)
	List(ctx context.Context, scope domain.Scope) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, scope domain.Scope, id uuid.UUID) error
}

type Handler struct {
	logger *slog.Logger
	keys   Service
}

func NewHandler(logger *slog.Logger, keys Service) *Handler {
	return &Handler{logger: logger, keys: keys}
}

// KeyView never carries the secret or its hash.
type KeyView struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	Scopes     []string   `json:"scopes"`
	CreatedBy  uuid.UUID  `json:"created_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func newKeyView(k *domain.APIKey) KeyView {
	return KeyView{
		ID:         k.ID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		Scopes:     k.Scopes,
		CreatedBy:  k.UserID,
		ExpiresAt:  k.ExpiresAt,
		LastUsedAt: k.LastUsedAt,
		RevokedAt:  k.RevokedAt,
		CreatedAt:  k.CreatedAt,
	}
}

type CreateRequest struct {
	Name          string   `json:"name"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays int      `json:"expires_in_days"`
}

// CreateResponse is the only place the plaintext key is ever shown.
type CreateResponse struct {
	KeyView
	Key string `json:"key"`
}

// Create handles POST /v1/api-keys
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

	key, raw, err := h.keys.Create(r.Context(), scope, service.CreateAPIKeyInput{
		Name:   req.Name,
		Scopes: req.Scopes,
		TTL:    time.Duration(req.ExpiresInDays) * 24 * time.Hour,
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, CreateResponse{KeyView: newKeyView(key), Key: raw})
}

// List handles GET /v1/api-keys
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	keys, err := h.keys.List(r.Context(), scope)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	views := make([]KeyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, newKeyView(k))
	}
	httputil.JSON(w, http.StatusOK, views)
}

// Revoke handles DELETE /v1/api-keys/{id}
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := httputil.URLParamUUID(r, "id")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if err := h.keys.Revoke(r.Context(), scope, id); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
