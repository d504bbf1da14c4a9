package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/immigration-portal/internal/config"
	"github.com/tendant/immigration-portal/internal/httputil"
)

// Limiters holds one middleware per endpoint class. Disabled classes pass
// requests through untouched.
type Limiters struct {
	Auth    func(http.Handler) http.Handler
	Reset   func(http.Handler) http.Handler
	Refresh func(http.Handler) http.Handler
	API     func(http.Handler) http.Handler
}

// NewLimiters builds the limiters described by cfg. Public endpoints are
// keyed by client IP; authenticated API traffic shares a budget per tenant.
func NewLimiters(cfg config.RateLimitConfig, logger *slog.Logger) Limiters {
	if !cfg.Enabled {
		return Limiters{Auth: passthrough, Reset: passthrough, Refresh: passthrough, API: passthrough}
	}
	minutes := func(n int) time.Duration { return time.Duration(n) * time.Minute }
	return Limiters{
		Auth:    RateLimit("auth", cfg.AuthRequestsPerMinute, minutes(cfg.AuthWindowMinutes), httprate.KeyByIP, logger),
		Reset:   RateLimit("reset", cfg.ResetRequestsPerWindow, minutes(cfg.ResetWindowMinutes), httprate.KeyByIP, logger),
		Refresh: RateLimit("refresh", cfg.RefreshRequestsPerMinute, minutes(cfg.RefreshWindowMinutes), httprate.KeyByIP, logger),
		API:     RateLimit("api", cfg.APIRequestsPerMinute, minutes(cfg.APIWindowMinutes), KeyByTenant, logger),
	}
}

// RateLimit allows requests per window for each key. A non-positive limit
// or window disables it.
func RateLimit(name string, requests int, window time.Duration, key httprate.KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if requests <= 0 || window <= 0 {
		return passthrough
	}
	if logger == nil {
		logger = slog.Default()
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.Warn("rate limit exceeded",
				"limiter", name,
				"ip", r.RemoteAddr,
				"method", r.Method,
				"path", r.URL.Path,
			)
			httputil.Error(w, http.StatusTooManyRequests, "too many requests, try again later")
		}),
	)
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// KeyByTenant keys requests by the tenant resolved for the request, falling
// back to the client IP. Use after ResolveTenant.
func KeyByTenant(r *http.Request) (string, error) {
	if t, ok := GetRequestTenant(r.Context()); ok {
		return "tenant:" + t.ID.String(), nil
	}
	return httprate.KeyByIP(r)
}
