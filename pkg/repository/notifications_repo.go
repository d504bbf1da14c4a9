package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const notificationColumns = `id, tenant_id, user_id, type, title, message, link, read_at, created_at`

// NotificationsRepository handles in-app notifications.
type NotificationsRepository struct {
	db *sql.DB
}

// NewNotificationsRepository creates a new notifications repository.
func NewNotificationsRepository(db *sql.DB) *NotificationsRepository {
	return &NotificationsRepository{db: db}
}

func scanNotification(row interface{ Scan(...any) error }) (*domain.Notification, error) {
	n := &domain.Notification{}
	err := row.Scan(&n.ID, &n.TenantID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Link, &n.ReadAt, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// CreateBatch inserts notifications.
func (r *NotificationsRepository) CreateBatch(ctx context.Context, ns []*domain.Notification) error {
	query := `
		INSERT INTO notifications (id, tenant_id, user_id, type, title, message, link, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	q := querier(ctx, r.db)
	for _, n := range ns {
		if _, err := q.ExecContext(ctx, query, n.ID, n.TenantID, n.UserID, n.Type, n.Title, n.Message, n.Link, n.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// ListForUser returns a user's notifications within scope, newest first.
func (r *NotificationsRepository) ListForUser(ctx context.Context, scope domain.Scope, userID uuid.UUID, unreadOnly bool, page domain.Page) ([]*domain.Notification, int, error) {
	clause, args := tenantClause(scope, "tenant_id", []any{userID})
	where := "user_id = $1 AND " + clause
	if unreadOnly {
		where += " AND read_at IS NULL"
	}

	var total int
	if err := querier(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page = page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		notificationColumns, where, len(args)-1, len(args))
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// CountUnread counts a user's unread notifications within scope.
func (r *NotificationsRepository) CountUnread(ctx context.Context, scope domain.Scope, userID uuid.UUID) (int, error) {
	clause, args := tenantClause(scope, "tenant_id", []any{userID})
	var n int
	err := querier(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL AND `+clause, args...).Scan(&n)
	return n, err
}

// MarkRead marks one of the user's notifications read.
func (r *NotificationsRepository) MarkRead(ctx context.Context, scope domain.Scope, userID, id uuid.UUID) error {
	clause, args := tenantClause(scope, "tenant_id", []any{id, userID})
	query := `UPDATE notifications SET read_at = COALESCE(read_at, NOW()) WHERE id = $1 AND user_id = $2 AND ` + clause
	res, err := querier(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrNotificationNotFound)
}

// MarkAllRead marks all of the user's notifications read and returns how many changed.
func (r *NotificationsRepository) MarkAllRead(ctx context.Context, scope domain.Scope, userID uuid.UUID) (int64, error) {
	clause, args := tenantClause(scope, "tenant_id", []any{userID})
	query := `UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL AND ` + clause
	res, err := querier(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes one of the user's notifications.
func (r *NotificationsRepository) Delete(ctx context.Context, scope domain.Scope, userID, id uuid.UUID) error {
	clause, args := tenantClause(scope, "tenant_id", []any{id, userID})
	res, err := querier(ctx, r.db).ExecContext(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2 AND `+clause, args...)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrNotificationNotFound)
}
