package middleware

import (
	"net/http"

	"github.com/tendant/immigration-portal/internal/httputil"
)

// RequireMFA enforces MFA verification for sensitive endpoints.
// This middleware should be applied AFTER the Auth middleware.
// API keys never satisfy it.
//
// Example usage:
//
//	r.With(middleware.RequireMFA(true)).Post("/impersonations", h.Start)
func RequireMFA(enabled bool) func(http.Handler) http.Handler {
	if !enabled {
		return passthrough
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := GetScope(r.Context()); !ok {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !MFAVerified(r.Context()) {
				httputil.Error(w, http.StatusForbidden, "MFA verification required for this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
