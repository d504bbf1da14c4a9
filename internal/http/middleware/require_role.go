package middleware

import (
	"net/http"

	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// RequireRole rejects callers ranked below min. Must be used after Auth.
func RequireRole(min domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, ok := GetScope(r.Context())
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if err := scope.RequireRole(min); err != nil {
				httputil.WriteError(w, r, nil, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
