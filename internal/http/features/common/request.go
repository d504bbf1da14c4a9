package common

import (
	"net/http"

	"github.com/tendant/immigration-portal/internal/http/middleware"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// Scope returns the caller's scope, writing a 401 when the route was
// mounted without the Auth middleware.
func Scope(w http.ResponseWriter, r *http.Request) (domain.Scope, bool) {
	scope, ok := middleware.GetScope(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
	}
	return scope, ok
}

// Client describes the caller for session metadata. RemoteAddr has already
// been rewritten by the RealIP middleware.
func Client(r *http.Request) auth.ClientInfo {
	c := auth.ClientInfo{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Request:   r,
	}
	if t, ok := middleware.GetRequestTenant(r.Context()); ok {
		c.Tenant = &t.ID
	}
	return c
}
