package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeTokens struct {
	claims   map[string]*auth.AccessTokenClaims
	inactive map[uuid.UUID]bool
	err      error
}

func (f *fakeTokens) ValidateAccessToken(token string) (*auth.AccessTokenClaims, error) {
	c, ok := f.claims[token]
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	return c, nil
}

func (f *fakeTokens) IsSessionActive(_ context.Context, id uuid.UUID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.inactive[id], nil
}

type fakeKeys struct {
	scope domain.Scope
	key   *domain.APIKey
}

func (f *fakeKeys) Authenticate(_ context.Context, raw string) (domain.Scope, *domain.APIKey, error) {
	if raw != "ipk_good0000_secret" {
		return domain.Scope{}, nil, domain.ErrAPIKeyInvalid
	}
	return f.scope, f.key, nil
}

func claimsFor(userID, sessionID uuid.UUID, tenantID *uuid.UUID, role domain.Role) *auth.AccessTokenClaims {
	c := &auth.AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String(), ID: sessionID.String()},
		Role:             role,
	}
	if tenantID != nil {
		c.TenantID = tenantID.String()
	}
	return c
}

// captured records what the wrapped handler saw.
type captured struct {
	called bool
	scope  domain.Scope
	ctx    context.Context
}

func (c *captured) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.scope, _ = GetScope(r.Context())
		c.ctx = r.Context()
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_BearerToken(t *testing.T) {
	userID, sessionID, tenantID := uuid.New(), uuid.New(), uuid.New()
	tokens := &fakeTokens{claims: map[string]*auth.AccessTokenClaims{
		"good": claimsFor(userID, sessionID, &tenantID, domain.RoleAdmin),
	}}
	var got captured
	handler := Auth(AuthOptions{Sessions: tokens, Logger: quiet})(got.handler())

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || !got.called {
		t.Fatalf("status = %d, called = %v", rec.Code, got.called)
	}
	if got.scope.UserID != userID || *got.scope.TenantID != tenantID || got.scope.Role != domain.RoleAdmin {
		t.Errorf("scope = %+v", got.scope)
	}
	if _, ok := GetClaims(got.ctx); !ok {
		t.Error("claims missing from context")
	}
	if MFAVerified(got.ctx) {
		t.Error("session should not be MFA verified")
	}
}

func TestAuth_Rejections(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	revoked := uuid.New()
	tokens := &fakeTokens{
		claims: map[string]*auth.AccessTokenClaims{
			"revoked":   claimsFor(userID, revoked, &tenantID, domain.RoleUser),
			"no-tenant": claimsFor(userID, uuid.New(), nil, domain.RoleUser),
			"bad-sub":   {RegisteredClaims: jwt.RegisteredClaims{Subject: "x", ID: uuid.NewString()}, Role: domain.RoleUser},
		},
		inactive: map[uuid.UUID]bool{revoked: true},
	}
	handler := Auth(AuthOptions{Sessions: tokens, Logger: quiet})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"revoked session", "Bearer revoked", http.StatusUnauthorized},
		{"tenant-less user", "Bearer no-tenant", http.StatusUnauthorized},
		{"bad subject", "Bearer bad-sub", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got captured
			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler(got.handler()).ServeHTTP(rec, req)
			if rec.Code != tt.status || got.called {
				t.Errorf("status = %d, called = %v, want %d", rec.Code, got.called, tt.status)
			}
		})
	}
}

func TestAuth_SessionLookupFailure(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	tokens := &fakeTokens{
		claims: map[string]*auth.AccessTokenClaims{"t": claimsFor(userID, uuid.New(), &tenantID, domain.RoleUser)},
		err:    errors.New("db down"),
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer t")
	rec := httptest.NewRecorder()
	Auth(AuthOptions{Sessions: tokens, Logger: quiet})(http.NotFoundHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestAuth_CookieFallback(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	tokens := &fakeTokens{claims: map[string]*auth.AccessTokenClaims{
		"cookie-token": claimsFor(userID, uuid.New(), &tenantID, domain.RoleUser),
	}}
	var got captured
	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
	rec := httptest.NewRecorder()
	Auth(AuthOptions{Sessions: tokens, Logger: quiet})(got.handler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || got.scope.UserID != userID {
		t.Errorf("status = %d, scope = %+v", rec.Code, got.scope)
	}
}

func TestAuth_TenantMismatch(t *testing.T) {
	userID, tokenTenant := uuid.New(), uuid.New()
	superID := uuid.New()
	tokens := &fakeTokens{claims: map[string]*auth.AccessTokenClaims{
		"member": claimsFor(userID, uuid.New(), &tokenTenant, domain.RoleTenantAdmin),
		"super":  claimsFor(superID, uuid.New(), nil, domain.RoleSuperAdmin),
	}}
	handler := Auth(AuthOptions{Sessions: tokens, Logger: quiet})

	send := func(token string, tenant *domain.Tenant) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req = req.WithContext(WithRequestTenant(req.Context(), tenant))
		rec := httptest.NewRecorder()
		var got captured
		handler(got.handler()).ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("member", &domain.Tenant{ID: tokenTenant}); code != http.StatusOK {
		t.Errorf("own tenant = %d", code)
	}
	if code := send("member", &domain.Tenant{ID: uuid.New()}); code != http.StatusForbidden {
		t.Errorf("other tenant = %d, want 403", code)
	}
	if code := send("super", &domain.Tenant{ID: uuid.New()}); code != http.StatusOK {
		t.Errorf("super admin = %d", code)
	}
}

func TestAuth_APIKey(t *testing.T) {
	userID, tenantID := uuid.New(), uuid.New()
	readOnly := &fakeKeys{
		scope: domain.Scope{UserID: userID, TenantID: &tenantID, Role: domain.RoleAdmin},
		key:   &domain.APIKey{ID: uuid.New(), TenantID: tenantID, Scopes: []string{"read"}},
	}
	handler := Auth(AuthOptions{Sessions: &fakeTokens{}, APIKeys: readOnly, Logger: quiet})

	send := func(method, key string) (int, captured) {
		var got captured
		req := httptest.NewRequest(method, "/v1/users", nil)
		req.Header.Set(APIKeyHeader, key)
		rec := httptest.NewRecorder()
		handler(got.handler()).ServeHTTP(rec, req)
		return rec.Code, got
	}

	code, got := send(http.MethodGet, "ipk_good0000_secret")
	if code != http.StatusOK || got.scope.UserID != userID {
		t.Fatalf("GET status = %d, scope = %+v", code, got.scope)
	}
	if key, ok := GetAPIKey(got.ctx); !ok || key.ID != readOnly.key.ID {
		t.Error("api key missing from context")
	}
	if MFAVerified(got.ctx) {
		t.Error("API keys never satisfy MFA")
	}

	if code, _ := send(http.MethodPost, "ipk_good0000_secret"); code != http.StatusForbidden {
		t.Errorf("POST with read-only key = %d, want 403", code)
	}
	if code, _ := send(http.MethodGet, "ipk_bad"); code != http.StatusUnauthorized {
		t.Errorf("bad key = %d, want 401", code)
	}

	readOnly.key.Scopes = []string{"read", "write"}
	if code, _ := send(http.MethodPost, "ipk_good0000_secret"); code != http.StatusOK {
		t.Errorf("POST with write key = %d", code)
	}
}
