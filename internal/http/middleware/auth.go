package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
	"github.com/tendant/immigration-portal/pkg/service"
)

// APIKeyHeader carries machine credentials.
const APIKeyHeader = "X-API-Key"

type contextKey string

const (
	scopeKey  contextKey = "scope"
	claimsKey contextKey = "claims"
	apiKeyKey contextKey = "api_key"
	tenantKey contextKey = "request_tenant"
)

// TokenValidator verifies access tokens and the sessions behind them.
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.AccessTokenClaims, error)
	IsSessionActive(ctx context.Context, id uuid.UUID) (bool, error)
}

// APIKeyAuthenticator resolves X-API-Key credentials to a scope.
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, raw string) (domain.Scope, *domain.APIKey, error)
}

// AuthOptions configures the Auth middleware. APIKeys may be nil to accept
// bearer tokens only.
type AuthOptions struct {
	Sessions TokenValidator
	APIKeys  APIKeyAuthenticator
	Logger   *slog.Logger
}

// Auth authenticates the request and stores its scope in the context.
// An X-API-Key header takes precedence; otherwise the access token is read
// from the Authorization header, then from the cookie for web clients.
// A credential bound to a tenant other than the one resolved for the
// request is rejected.
func Auth(opts AuthOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var scope domain.Scope
			if raw := r.Header.Get(APIKeyHeader); raw != "" && opts.APIKeys != nil {
				s, key, err := opts.APIKeys.Authenticate(ctx, raw)
				if err != nil {
					httputil.WriteError(w, r, logger, err)
					return
				}
				if !isReadOnly(r.Method) && !service.AllowsWrite(key) {
					httputil.Error(w, http.StatusForbidden, "API key is read-only")
					return
				}
				scope = s
				ctx = context.WithValue(ctx, apiKeyKey, key)
			} else {
				tokenString := bearerToken(r)
				if tokenString == "" {
					httputil.Error(w, http.StatusUnauthorized, "missing authorization")
					return
				}

				claims, err := opts.Sessions.ValidateAccessToken(tokenString)
				if err != nil {
					httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				s, err := claims.Scope()
				if err != nil {
					httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}

				// Access tokens outlive logout and ended impersonations
				// unless the session is checked.
				sessionID, err := claims.SessionID()
				if err != nil {
					httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
					return
				}
				active, err := opts.Sessions.IsSessionActive(ctx, sessionID)
				if err != nil {
					httputil.WriteError(w, r, logger, err)
					return
				}
				if !active {
					httputil.WriteError(w, r, logger, domain.ErrSessionRevoked)
					return
				}
				scope = s
				ctx = context.WithValue(ctx, claimsKey, claims)
			}

			if t, ok := GetRequestTenant(ctx); ok && scope.TenantID != nil && *scope.TenantID != t.ID {
				logger.Warn("credential used against another tenant",
					"user_id", scope.UserID,
					"token_tenant", *scope.TenantID,
					"request_tenant", t.ID,
				)
				httputil.WriteError(w, r, logger, domain.ErrTenantMismatch)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithScope(ctx, scope)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if token, ok := httputil.GetAccessTokenFromCookie(r); ok {
		return token
	}
	return ""
}

func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// WithScope returns a context carrying scope.
func WithScope(ctx context.Context, scope domain.Scope) context.Context {
	return context.WithValue(ctx, scopeKey, scope)
}

// GetScope extracts the authenticated scope from the request context.
func GetScope(ctx context.Context) (domain.Scope, bool) {
	scope, ok := ctx.Value(scopeKey).(domain.Scope)
	return scope, ok
}

// GetClaims extracts the token claims. Requests authenticated with an API
// key carry none.
func GetClaims(ctx context.Context) (*auth.AccessTokenClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.AccessTokenClaims)
	return claims, ok
}

// GetAPIKey extracts the API key the request was authenticated with.
func GetAPIKey(ctx context.Context) (*domain.APIKey, bool) {
	key, ok := ctx.Value(apiKeyKey).(*domain.APIKey)
	return key, ok
}

// MFAVerified reports whether the request's session passed a second factor.
func MFAVerified(ctx context.Context) bool {
	claims, ok := GetClaims(ctx)
	return ok && claims.MFAVerified
}
