package mfa

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/http/middleware"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

type fakeMFA struct {
	enabledFor uuid.UUID
	enableErr  error
	setupUser  *domain.User
}

func (f *fakeMFA) Setup(_ context.Context, user *domain.User) (*domain.MFASetupResponse, error) {
	f.setupUser = user
	return &domain.MFASetupResponse{Secret: "BASE32SECRET", QRCodeDataURI: "data:image/png;base64,xx", RecoveryCodes: []string{"a-b", "c-d"}}, nil
}

func (f *fakeMFA) Enable(_ context.Context, userID uuid.UUID, _ string) error {
	if f.enableErr != nil {
		return f.enableErr
	}
	f.enabledFor = userID
	return nil
}

func (f *fakeMFA) Disable(_ context.Context, _ uuid.UUID, _ string) error { return nil }

func (f *fakeMFA) Status(_ context.Context, _ uuid.UUID) (*domain.MFAStatus, error) {
	return &domain.MFAStatus{Enabled: true, Method: domain.MFAMethodTOTP, RecoveryCodesRemaining: 8}, nil
}

type fakeLogins struct{ err error }

func (f fakeLogins) CompleteMFALogin(_ context.Context, _, _ string, _ auth.ClientInfo) (*auth.AuthResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &auth.AuthResult{
		User:   &domain.User{ID: uuid.New(), Email: "ana@maple.test", MFAEnabled: true},
		Tokens: &domain.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer"},
	}, nil
}

type fakeUsers map[uuid.UUID]*domain.User

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

type countingRecorder map[string]int

func (c countingRecorder) RecordAuth(result string) { c[result]++ }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newHandler(svc Service, logins LoginCompleter, users UserGetter, rec AuthRecorder) *Handler {
	return NewHandler(quiet, svc, logins, users, common.TokenWriter{
		Cookies:    httputil.DefaultCookieConfig(),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: time.Hour,
	}, rec)
}

func withScope(req *http.Request, scope domain.Scope) *http.Request {
	return req.WithContext(middleware.WithScope(req.Context(), scope))
}

func userScope() domain.Scope {
	tenantID := uuid.New()
	return domain.Scope{UserID: uuid.New(), TenantID: &tenantID, Role: domain.RoleUser}
}

func TestEndpoints_RequireAuthentication(t *testing.T) {
	handler := &Handler{}
	endpoints := map[string]http.HandlerFunc{
		"setup":   handler.Setup,
		"enable":  handler.Enable,
		"disable": handler.Disable,
		"status":  handler.Status,
	}
	for name, fn := range endpoints {
		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodPost, "/v1/me/mfa/"+name, bytes.NewBufferString(`{}`)))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", name, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestEndpoints_RejectImpersonation(t *testing.T) {
	scope := userScope()
	imp := uuid.New()
	scope.ImpersonatorID = &imp
	scope.ImpersonationID = &imp

	handler := newHandler(&fakeMFA{}, nil, fakeUsers{}, nil)
	for name, fn := range map[string]http.HandlerFunc{"setup": handler.Setup, "enable": handler.Enable, "disable": handler.Disable} {
		rec := httptest.NewRecorder()
		fn(rec, withScope(httptest.NewRequest(http.MethodPost, "/v1/me/mfa/"+name, bytes.NewBufferString(`{"code":"1","password":"p"}`)), scope))
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", name, rec.Code)
		}
	}
}

func TestSetup(t *testing.T) {
	scope := userScope()
	user := &domain.User{ID: scope.UserID, Email: "ana@maple.test"}
	svc := &fakeMFA{}
	rec := httptest.NewRecorder()

	newHandler(svc, nil, fakeUsers{user.ID: user}, nil).Setup(rec, withScope(httptest.NewRequest(http.MethodPost, "/v1/me/mfa/setup", nil), scope))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if svc.setupUser != user {
		t.Error("setup did not receive the caller's account")
	}
	var body struct {
		Data SetupResponse `json:"data"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Data.Secret != "BASE32SECRET" || len(body.Data.RecoveryCodes) != 2 || body.Data.QRCode == "" {
		t.Errorf("data = %+v", body.Data)
	}
}

func TestEnable(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing code", `{}`, nil, http.StatusBadRequest},
		{"wrong code", `{"code":"000000"}`, domain.ErrInvalidMFACode, http.StatusUnauthorized},
		{"locked", `{"code":"000000"}`, domain.ErrMFALocked, http.StatusLocked},
		{"ok", `{"code":"123456"}`, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := userScope()
			svc := &fakeMFA{enableErr: tt.err}
			rec := httptest.NewRecorder()
			newHandler(svc, nil, nil, nil).Enable(rec, withScope(httptest.NewRequest(http.MethodPost, "/v1/me/mfa/enable", bytes.NewBufferString(tt.body)), scope))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && svc.enabledFor != scope.UserID {
				t.Errorf("enabled for %v", svc.enabledFor)
			}
		})
	}
}

func TestDisable_RequiresPassword(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler(&fakeMFA{}, nil, nil, nil).Disable(rec, withScope(httptest.NewRequest(http.MethodPost, "/v1/me/mfa/disable", bytes.NewBufferString(`{}`)), userScope()))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler(&fakeMFA{}, nil, nil, nil).Status(rec, withScope(httptest.NewRequest(http.MethodGet, "/v1/me/mfa/status", nil), userScope()))

	var body struct {
		Data domain.MFAStatus `json:"data"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if rec.Code != http.StatusOK || !body.Data.Enabled || body.Data.RecoveryCodesRemaining != 8 {
		t.Errorf("status = %d, data = %+v", rec.Code, body.Data)
	}
}

func TestVerifyRequest_Validation(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "empty body",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "challenge_token and code are required",
		},
		{
			name:           "missing challenge_token",
			body:           `{"code": "123456"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "challenge_token and code are required",
		},
		{
			name:           "missing code",
			body:           `{"challenge_token": "token123"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "challenge_token and code are required",
		},
		{
			name:           "invalid json",
			body:           `{invalid}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "invalid request body",
		},
	}

	handler := &Handler{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/auth/mfa/verify", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Validation should have failed before reaching service")
				}
			}()

			handler.Verify(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("Status code = %d, want %d", rec.Code, tt.expectedStatus)
			}

			var response struct {
				Message string `json:"message"`
			}
			_ = json.NewDecoder(rec.Body).Decode(&response)
			if response.Message != tt.expectedError {
				t.Errorf("Error = %q, want %q", response.Message, tt.expectedError)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	metrics := countingRecorder{}
	body := `{"challenge_token":"chal","code":"123456"}`

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/mfa/verify", bytes.NewBufferString(body))
	req.Header.Set(httputil.ClientTypeHeader, "mobile")
	newHandler(nil, fakeLogins{}, nil, metrics).Verify(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp struct {
		Data common.AuthResponse `json:"data"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Data.Tokens == nil || resp.Data.Tokens.AccessToken != "a" {
		t.Errorf("data = %+v", resp.Data)
	}

	rec = httptest.NewRecorder()
	newHandler(nil, fakeLogins{err: domain.ErrMFAChallengeExpired}, nil, metrics).Verify(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/mfa/verify", bytes.NewBufferString(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expired challenge = %d", rec.Code)
	}

	if metrics["success"] != 1 || metrics["mfa_failure"] != 1 {
		t.Errorf("metrics = %v", metrics)
	}
}
