package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// TenantHeader names the tenant a request is addressed to.
const TenantHeader = "X-Tenant-Domain"

// TenantResolver maps a tenant domain to a tenant.
type TenantResolver interface {
	ResolveByDomain(ctx context.Context, name string) (*domain.Tenant, error)
}

// ResolveTenant loads the tenant named by the X-Tenant-Domain header.
// Requests without the header pass through untouched. Unknown, suspended
// and expired tenants are rejected here, before authentication.
func ResolveTenant(resolver TenantResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := r.Header.Get(TenantHeader)
			if name == "" {
				next.ServeHTTP(w, r)
				return
			}

			tenant, err := resolver.ResolveByDomain(r.Context(), name)
			if err != nil {
				httputil.WriteError(w, r, logger, err)
				return
			}
			if err := tenant.CheckAccess(time.Now()); err != nil {
				httputil.WriteError(w, r, logger, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithRequestTenant(r.Context(), tenant)))
		})
	}
}

// WithRequestTenant returns a context carrying the request tenant.
func WithRequestTenant(ctx context.Context, t *domain.Tenant) context.Context {
	return context.WithValue(ctx, tenantKey, t)
}

// GetRequestTenant extracts the tenant resolved for the request.
func GetRequestTenant(ctx context.Context) (*domain.Tenant, bool) {
	t, ok := ctx.Value(tenantKey).(*domain.Tenant)
	return t, ok && t != nil
}
