package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	CreateBatch(ctx context.Context, ns []*domain.Notification) error
	ListForUser(ctx context.Context, scope domain.Scope, userID uuid.UUID, unreadOnly bool, page domain.Page) ([]*domain.Notification, int, error)
	CountUnread(ctx context.Context, scope domain.Scope, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, scope domain.Scope, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, scope domain.Scope, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, scope domain.Scope, userID, id uuid.UUID) error
}

// NotificationService delivers in-app notifications and optional emails.
type NotificationService struct {
	notifications NotificationStore
	users         UserStore
	mailer        Mailer
	logger        *slog.Logger
	now           func() time.Time
}

// NewNotificationService creates a notification service. mailer may be nil.
func NewNotificationService(notifications NotificationStore, users UserStore, mailer Mailer, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{
		notifications: notifications,
		users:         users,
		mailer:        mailer,
		logger:        logger,
		now:           time.Now,
	}
}

// NotificationInput is the content of a notification.
type NotificationInput struct {
	Type    domain.NotificationType
	Title   string
	Message string
	Link    string
	Email   bool
}

func (in *NotificationInput) validate() error {
	if in.Type == "" {
		in.Type = domain.NotificationInfo
	}
	if !in.Type.Valid() {
		return domain.Validation("invalid notification type %q", in.Type)
	}
	in.Title = auth.SanitizeName(in.Title)
	in.Message = auth.SanitizeText(in.Message)
	if err := auth.ValidateStringLength("title", in.Title, 1, 200); err != nil {
		return err
	}
	return auth.ValidateStringLength("message", in.Message, 0, 5000)
}

// Send notifies one user of the scope's tenant.
func (s *NotificationService) Send(ctx context.Context, scope domain.Scope, userID uuid.UUID, in NotificationInput) (*domain.Notification, error) {
	if err := scope.RequireRole(domain.RoleAdmin); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	user, err := s.users.Get(ctx, scope, userID)
	if err != nil {
		return nil, err
	}
	if user.TenantID == nil {
		return nil, domain.ErrTenantRequired
	}

	n := s.build(*user.TenantID, user.ID, in)
	if err := s.notifications.CreateBatch(ctx, []*domain.Notification{n}); err != nil {
		return nil, err
	}
	if in.Email {
		s.email(user.Email, in)
	}
	return n, nil
}

// Broadcast notifies every active user of the scope's tenant and returns
// how many were notified.
func (s *NotificationService) Broadcast(ctx context.Context, scope domain.Scope, in NotificationInput) (int, error) {
	if err := scope.RequireRole(domain.RoleTenantAdmin); err != nil {
		return 0, err
	}
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return 0, err
	}
	if err := in.validate(); err != nil {
		return 0, err
	}
	ids, err := s.users.ListActiveIDs(ctx, scope, tenantID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	batch := make([]*domain.Notification, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, s.build(tenantID, id, in))
	}
	if err := s.notifications.CreateBatch(ctx, batch); err != nil {
		return 0, err
	}
	s.logger.Info("notification broadcast", "tenant_id", tenantID, "recipients", len(batch), "by", scope.UserID)
	return len(batch), nil
}

// ListMine returns the caller's notifications, newest first.
func (s *NotificationService) ListMine(ctx context.Context, scope domain.Scope, unreadOnly bool, page domain.Page) (*domain.List[*domain.Notification], error) {
	page = page.Normalize()
	ns, total, err := s.notifications.ListForUser(ctx, scope, scope.UserID, unreadOnly, page)
	if err != nil {
		return nil, err
	}
	return listOf(ns, total, page), nil
}

// UnreadCount returns the caller's unread count.
func (s *NotificationService) UnreadCount(ctx context.Context, scope domain.Scope) (int, error) {
	return s.notifications.CountUnread(ctx, scope, scope.UserID)
}

// MarkRead marks one of the caller's notifications read.
func (s *NotificationService) MarkRead(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	return s.notifications.MarkRead(ctx, scope, scope.UserID, id)
}

// MarkAllRead marks all of the caller's notifications read.
func (s *NotificationService) MarkAllRead(ctx context.Context, scope domain.Scope) (int64, error) {
	return s.notifications.MarkAllRead(ctx, scope, scope.UserID)
}

// Delete removes one of the caller's notifications.
func (s *NotificationService) Delete(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	return s.notifications.Delete(ctx, scope, scope.UserID, id)
}

func (s *NotificationService) build(tenantID, userID uuid.UUID, in NotificationInput) *domain.Notification {
	return &domain.Notification{
		ID:        uuid.New(),
		TenantID:  tenantID,
		UserID:    userID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Link:      strings.TrimSpace(in.Link),
		CreatedAt: s.now(),
	}
}

func (s *NotificationService) email(to string, in NotificationInput) {
	if s.mailer == nil {
		s.logger.Warn("notification email requested but no mailer is configured", "to", to)
		return
	}
	if err := s.mailer.SendNotificationEmail(to, in.Title, in.Message); err != nil {
		s.logger.Error("failed to send notification email", "to", to, "error", err)
	}
}
