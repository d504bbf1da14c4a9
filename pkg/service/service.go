// Package service implements the portal's tenant-scoped business operations.
// Every method takes the caller's domain.Scope and never returns records of
// a tenant the scope cannot access.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// DefaultLookupTimeout bounds plan and subscription lookups.
const DefaultLookupTimeout = 5 * time.Second

// TxRunner runs fn inside a database transaction carried by ctx.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SessionRevoker ends sessions when accounts, tenants or impersonations change.
type SessionRevoker interface {
	RevokeAllByUserID(ctx context.Context, userID uuid.UUID) error
	RevokeAllByTenant(ctx context.Context, tenantID uuid.UUID) error
	RevokeByImpersonation(ctx context.Context, impersonationID uuid.UUID) error
}

// Mailer delivers notification emails. Nil disables email delivery.
type Mailer interface {
	SendNotificationEmail(to, subject, body string) error
}

// withTimeout runs fn under a deadline and maps an expired deadline to
// ErrPlanLookupTimeout.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		d = DefaultLookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	v, err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, domain.ErrPlanLookupTimeout
	}
	return v, err
}

func listOf[T any](items []T, total int, page domain.Page) *domain.List[T] {
	if items == nil {
		items = []T{}
	}
	return &domain.List[T]{Items: items, Total: total, Limit: page.Limit, Offset: page.Offset}
}

func seatDelta(role domain.Role) int {
	if role.CountsAsAdmin() {
		return 1
	}
	return 0
}
