package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/immigration-portal/internal/config"
	"github.com/tendant/immigration-portal/internal/http/features/apikeys"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/http/features/documents"
	"github.com/tendant/immigration-portal/internal/http/features/impersonations"
	"github.com/tendant/immigration-portal/internal/http/features/me"
	"github.com/tendant/immigration-portal/internal/http/features/mfa"
	"github.com/tendant/immigration-portal/internal/http/features/notifications"
	"github.com/tendant/immigration-portal/internal/http/features/password"
	"github.com/tendant/immigration-portal/internal/http/features/profiles"
	"github.com/tendant/immigration-portal/internal/http/features/session"
	"github.com/tendant/immigration-portal/internal/http/features/subscriptions"
	"github.com/tendant/immigration-portal/internal/http/features/tenants"
	"github.com/tendant/immigration-portal/internal/http/features/users"
	"github.com/tendant/immigration-portal/internal/http/middleware"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/internal/metrics"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// AuthService is what the auth endpoints need from auth.AuthService.
type AuthService interface {
	password.Service
	session.TenantSwitcher
	mfa.LoginCompleter
}

// SessionService is what the router needs from auth.SessionService.
type SessionService interface {
	session.Sessions
	middleware.TokenValidator
}

// TenantService is what the router needs from service.TenantService.
type TenantService interface {
	tenants.Service
	middleware.TenantResolver
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Auth           AuthService
	Sessions       SessionService
	MFA            mfa.Service
	UserLookup     mfa.UserGetter
	Users          users.Service
	Tenants        TenantService
	Subscriptions  subscriptions.Service
	Profiles       profiles.Service
	Documents      documents.Service
	Notifications  notifications.Service
	APIKeys        apikeys.Service
	APIKeyAuth     middleware.APIKeyAuthenticator
	Impersonations impersonations.Service

	// HealthChecks are probed by /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck

	Cookies             httputil.CookieConfig
	AccessTTL           time.Duration
	RefreshTTL          time.Duration
	MaxRequestBodyBytes int64
	RequireMFA          bool
	RateLimitConfig     config.RateLimitConfig
	SecurityHeaders     config.SecurityHeadersConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBodyBytes))

	r.Get("/health", health(cfg.HealthChecks))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	tokens := common.TokenWriter{Cookies: cfg.Cookies, AccessTTL: cfg.AccessTTL, RefreshTTL: cfg.RefreshTTL}
	limiters := middleware.NewLimiters(cfg.RateLimitConfig, cfg.Logger)
	authn := middleware.Auth(middleware.AuthOptions{
		Sessions: cfg.Sessions,
		APIKeys:  cfg.APIKeyAuth,
		Logger:   cfg.Logger,
	})
	requireMFA := middleware.RequireMFA(cfg.RequireMFA)

	passwordHandler := password.NewHandler(cfg.Logger, cfg.Auth, tokens, cfg.Metrics)
	sessionHandler := session.NewHandler(cfg.Logger, cfg.Sessions, cfg.Auth, tokens)
	mfaHandler := mfa.NewHandler(cfg.Logger, cfg.MFA, cfg.Auth, cfg.UserLookup, tokens, cfg.Metrics)
	meHandler := me.NewHandler(cfg.Logger, cfg.Users, cfg.Tenants)
	userHandler := users.NewHandler(cfg.Logger, cfg.Users)
	tenantHandler := tenants.NewHandler(cfg.Logger, cfg.Tenants)
	subscriptionHandler := subscriptions.NewHandler(cfg.Logger, cfg.Subscriptions)
	profileHandler := profiles.NewHandler(cfg.Logger, cfg.Profiles)
	documentHandler := documents.NewHandler(cfg.Logger, cfg.Documents)
	notificationHandler := notifications.NewHandler(cfg.Logger, cfg.Notifications)
	apiKeyHandler := apikeys.NewHandler(cfg.Logger, cfg.APIKeys)
	impersonationHandler := impersonations.NewHandler(cfg.Logger, cfg.Impersonations, tokens, cfg.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.ResolveTenant(cfg.Tenants, cfg.Logger))

		// Public
		r.Group(func(r chi.Router) {
			r.Use(limiters.Auth)
			r.Post("/auth/register", passwordHandler.Register)
			r.Post("/auth/login", passwordHandler.Login)
			r.Post("/auth/mfa/verify", mfaHandler.Verify)
		})
		r.Group(func(r chi.Router) {
			r.Use(limiters.Reset)
			r.Post("/auth/password/reset-request", passwordHandler.RequestPasswordReset)
			r.Post("/auth/password/reset", passwordHandler.ResetPassword)
		})
		r.With(limiters.Refresh).Post("/auth/refresh", sessionHandler.Refresh)
		r.Post("/auth/logout", sessionHandler.Logout)
		r.Get("/plans", subscriptionHandler.ListPlans)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Use(limiters.API)

			r.Post("/auth/logout/all", sessionHandler.LogoutAll)
			r.Post("/auth/switch-tenant", sessionHandler.SwitchTenant)
			r.Post("/auth/password/change", passwordHandler.ChangePassword)

			r.Get("/me", meHandler.GetMe)
			r.Patch("/me", meHandler.UpdateMe)
			r.Get("/me/mfa/status", mfaHandler.Status)
			r.Post("/me/mfa/setup", mfaHandler.Setup)
			r.Post("/me/mfa/enable", mfaHandler.Enable)
			r.Post("/me/mfa/disable", mfaHandler.Disable)
			r.Get("/me/profile", profileHandler.GetMine)
			r.Put("/me/profile", profileHandler.UpdateMine)

			r.Get("/profiles/{userID}", profileHandler.GetForUser)
			r.With(middleware.RequireRole(domain.RoleAdmin)).Get("/profiles", profileHandler.List)

			r.Route("/users", func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RoleAdmin))
				r.Get("/", userHandler.List)
				r.Post("/", userHandler.Create)
				r.Get("/{id}", userHandler.Get)
				r.Patch("/{id}", userHandler.Update)
				r.Post("/{id}/deactivate", userHandler.Deactivate)
				r.Post("/{id}/reactivate", userHandler.Reactivate)
			})

			r.Route("/tenants", func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RoleSuperAdmin))
				r.Get("/", tenantHandler.List)
				r.Post("/", tenantHandler.Create)
				r.Get("/{id}", tenantHandler.Get)
				r.Patch("/{id}", tenantHandler.Update)
				r.With(requireMFA).Delete("/{id}", tenantHandler.Delete)
				r.With(requireMFA).Post("/{id}/status", tenantHandler.SetStatus)
			})
			r.Get("/tenant", tenantHandler.GetOwn)
			r.With(middleware.RequireRole(domain.RoleTenantAdmin)).Patch("/tenant", tenantHandler.UpdateOwn)

			r.Get("/subscription", subscriptionHandler.Current)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RoleTenantAdmin))
				r.Post("/subscription/plan", subscriptionHandler.ChangePlan)
				r.Post("/subscription/cancel", subscriptionHandler.Cancel)
			})

			r.Get("/documents", documentHandler.List)
			r.Post("/documents", documentHandler.RequestUpload)
			r.Post("/documents/{id}/confirm", documentHandler.Confirm)
			r.Get("/documents/{id}/download", documentHandler.Download)
			r.Delete("/documents/{id}", documentHandler.Delete)

			r.Get("/notifications", notificationHandler.List)
			r.Get("/notifications/unread-count", notificationHandler.UnreadCount)
			r.Post("/notifications/read-all", notificationHandler.MarkAllRead)
			r.Post("/notifications/{id}/read", notificationHandler.MarkRead)
			r.Delete("/notifications/{id}", notificationHandler.Delete)
			r.With(middleware.RequireRole(domain.RoleAdmin)).Post("/notifications", notificationHandler.Send)
			r.With(middleware.RequireRole(domain.RoleTenantAdmin)).Post("/notifications/broadcast", notificationHandler.Broadcast)

			r.Route("/api-keys", func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RoleAdmin))
				r.Get("/", apiKeyHandler.List)
				r.With(requireMFA).Post("/", apiKeyHandler.Create)
				r.Delete("/{id}", apiKeyHandler.Revoke)
			})

			// An impersonation session may end itself, so End only needs auth.
			r.Post("/impersonations/{id}/end", impersonationHandler.End)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(domain.RoleTenantAdmin))
				r.Get("/impersonations", impersonationHandler.List)
				r.With(requireMFA).Post("/impersonations", impersonationHandler.Start)
			})
		})
	})

	return r
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status[name] = "unavailable"
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		httputil.JSON(w, code, status)
	}
}
