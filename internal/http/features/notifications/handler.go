package notifications

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
	"github.com/tendant/immigration-portal/pkg/service"
)

// Service is the part of service.NotificationService the handler uses.
type Service interface {
	Send(ctx context.Context, scope domain.Scope, userID uuid.UUID, in service.NotificationInput) (*domain.Notification, error)
	Broadcast(ctx context.Context, scope domain.Scope, in service.NotificationInput) (int, error)
	ListMine(ctx context.Context, scope domain.Scope, unreadOnly bool, page domain.Page) (*domain.List[*domain.Notification], error)
	UnreadCount(ctx context.Context, scope domain.Scope) (int, error)
	MarkRead(ctx context.Context, scope domain.Scope, id uuid.UUID) error
	MarkAllRead(ctx context.Context, scope domain.Scope) (int64, error)
	Delete(ctx context.Context, scope domain.Scope, id uuid.UUID) error
}

// Handler handles in-app notification endpoints.
type Handler struct {
	logger        *slog.Logger
	notifications Service
}

func NewHandler(logger *slog.Logger, notifications Service) *Handler {
	return &Handler{logger: logger, notifications: notifications}
}

type NotificationView struct {
	ID        uuid.UUID               `json:"id"`
	Type      domain.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	Link      string                  `json:"link,omitempty"`
	IsRead    bool                    `json:"is_read"`
	ReadAt    *time.Time              `json:"read_at,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
}

func newNotificationView(n *domain.Notification) NotificationView {
	return NotificationView{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		IsRead:    n.IsRead(),
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

// SendRequest is the body of both send and broadcast. UserID is ignored
// for broadcasts.
type SendRequest struct {
	UserID  uuid.UUID               `json:"user_id,omitempty"`
	Type    domain.NotificationType `json:"type"`
	Title   string                  `json:"title"`
	Message string                  `json:"message"`
	Link    string                  `json:"link"`
	Email   bool                    `json:"email"`
}

func (req SendRequest) input() service.NotificationInput {
	return service.NotificationInput{
		Type:    req.Type,
		Title:   req.Title,
		Message: req.Message,
		Link:    req.Link,
		Email:   req.Email,
	}
}

// List handles GET /v1/notifications
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	unread := false
	if raw := r.URL.Query().Get("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid unread filter")
			return
		}
		unread = v
	}

	list, err := h.notifications.ListMine(r.Context(), scope, unread, httputil.ParsePage(r))
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.MapList(list, newNotificationView))
}

// UnreadCount handles GET /v1/notifications/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	n, err := h.notifications.UnreadCount(r.Context(), scope)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]int{"count": n})
}

// Send handles POST /v1/notifications
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if req.UserID == uuid.Nil {
		httputil.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}

	n, err := h.notifications.Send(r.Context(), scope, req.UserID, req.input())
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, newNotificationView(n))
}

// Broadcast handles POST /v1/notifications/broadcast
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	n, err := h.notifications.Broadcast(r.Context(), scope, req.input())
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, map[string]int{"recipients": n})
}

// MarkRead handles POST /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := httputil.URLParamUUID(r, "id")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if err := h.notifications.MarkRead(r.Context(), scope, id); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /v1/notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	n, err := h.notifications.MarkAllRead(r.Context(), scope)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// Delete handles DELETE /v1/notifications/{id}
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
	if err := h.notifications.Delete(r.Context(), scope, id); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
