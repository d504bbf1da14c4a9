package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

func TestSessionService_IssueAndRefresh(t *testing.T) {
	tenantID := uuid.New()
	u := &domain.User{ID: uuid.New(), TenantID: &tenantID, Email: "a@b.test", Role: domain.RoleAdmin, IsActive: true}
	users := newFakeUsers(u)
	store := newFakeSessions()
	svc := NewSessionService(SessionConfig{JWTSecret: testJWTSecret}, store, users, nil, nil)

	pair, err := svc.IssueSession(context.Background(), u, IssueOpts{MFAVerified: true})
	if err != nil {
		t.Fatalf("IssueSession() error = %v", err)
	}
	if pair.TokenType != "Bearer" || pair.ExpiresIn != int(DefaultAccessTokenTTL.Seconds()) {
		t.Errorf("pair = %+v", pair)
	}

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Role != domain.RoleAdmin || claims.TenantID != tenantID.String() || !claims.MFAVerified {
		t.Errorf("claims = %+v", claims)
	}

	refreshed, err := svc.RefreshSession(context.Background(), pair.RefreshToken, IssueOpts{})
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	rc, err := svc.ValidateAccessToken(refreshed.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if rc.ID != claims.ID || !rc.MFAVerified || rc.TenantID != claims.TenantID {
		t.Errorf("refreshed claims = %+v, want same session", rc)
	}

	// A role change is picked up on refresh.
	u.Role = domain.RoleUser
	refreshed, _ = svc.RefreshSession(context.Background(), pair.RefreshToken, IssueOpts{})
	rc, _ = svc.ValidateAccessToken(refreshed.AccessToken)
	if rc.Role != domain.RoleUser {
		t.Errorf("refreshed role = %q, want user", rc.Role)
	}

	u.IsActive = false
	if _, err := svc.RefreshSession(context.Background(), pair.RefreshToken, IssueOpts{}); !errors.Is(err, domain.ErrAccountInactive) {
		t.Errorf("refresh for inactive user error = %v", err)
	}
}

func TestSessionService_RevokedRefresh(t *testing.T) {
	u := &domain.User{ID: uuid.New(), Role: domain.RoleSuperAdmin, IsActive: true}
	store := newFakeSessions()
	svc := NewSessionService(SessionConfig{JWTSecret: testJWTSecret}, store, newFakeUsers(u), nil, nil)

	pair, _ := svc.IssueSession(context.Background(), u, IssueOpts{})
	if err := svc.RevokeSession(context.Background(), pair.RefreshToken); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RefreshSession(context.Background(), pair.RefreshToken, IssueOpts{}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("refresh after revoke error = %v", err)
	}
}

func TestSessionService_ImpersonationClaims(t *testing.T) {
	tenantID := uuid.New()
	target := &domain.User{ID: uuid.New(), TenantID: &tenantID, Role: domain.RoleUser, IsActive: true}
	svc := NewSessionService(SessionConfig{JWTSecret: testJWTSecret}, newFakeSessions(), newFakeUsers(target), nil, nil)

	impID, byID := uuid.New(), uuid.New()
	pair, err := svc.IssueSession(context.Background(), target, IssueOpts{
		ImpersonationID: &impID,
		ImpersonatorID:  &byID,
		Lifetime:        time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	if pair.ExpiresIn > 60 {
		t.Errorf("ExpiresIn = %d, want capped to lifetime", pair.ExpiresIn)
	}

	claims, _ := svc.ValidateAccessToken(pair.AccessToken)
	scope, err := claims.Scope()
	if err != nil {
		t.Fatal(err)
	}
	if !scope.IsImpersonating() || *scope.ImpersonatorID != byID || *scope.ImpersonationID != impID || scope.UserID != target.ID {
		t.Errorf("scope = %+v", scope)
	}
}

func TestSessionService_FingerprintReuse(t *testing.T) {
	u := &domain.User{ID: uuid.New(), Role: domain.RoleSuperAdmin, IsActive: true}
	store := newFakeSessions()
	svc := NewSessionService(SessionConfig{JWTSecret: testJWTSecret, FingerprintEnabled: true, DetectReuseEnabled: true}, store, newFakeUsers(u), nil, nil)

	req := httptest.NewRequest("POST", "/v1/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("User-Agent", "Browser")
	pair, _ := svc.IssueSession(context.Background(), u, IssueOpts{Request: req})

	other := httptest.NewRequest("POST", "/v1/auth/refresh", nil)
	other.RemoteAddr = "203.0.113.9:1234"
	other.Header.Set("User-Agent", "Browser")
	if _, err := svc.RefreshSession(context.Background(), pair.RefreshToken, IssueOpts{Request: other}); !errors.Is(err, domain.ErrSessionFingerprint) {
		t.Fatalf("refresh from new device error = %v", err)
	}
	if store.active(u.ID) != 0 {
		t.Error("session should be revoked after fingerprint mismatch")
	}
}

func TestSessionService_ValidateAccessToken_Rejects(t *testing.T) {
	svc := NewSessionService(SessionConfig{JWTSecret: testJWTSecret}, newFakeSessions(), newFakeUsers(), nil, nil)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString(), ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		Role:             domain.RoleUser,
	})
	expiredStr, _ := expired.SignedString(testJWTSecret)

	otherKey := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{Role: domain.RoleUser})
	otherKeyStr, _ := otherKey.SignedString([]byte("a-completely-different-secret-value!!"))

	for name, tok := range map[string]string{"garbage": "not.a.jwt", "expired": expiredStr, "wrong key": otherKeyStr} {
		if _, err := svc.ValidateAccessToken(tok); !errors.Is(err, domain.ErrInvalidToken) {
			t.Errorf("%s: error = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestAccessTokenClaims_Scope_RequiresTenant(t *testing.T) {
	c := &AccessTokenClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}, Role: domain.RoleAdmin}
	if _, err := c.Scope(); !errors.Is(err, domain.ErrTenantRequired) {
		t.Errorf("Scope() error = %v, want ErrTenantRequired", err)
	}
}

func TestSessionService_Refresh_TenantNoLongerUsable(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	tests := []struct {
		name    string
		mutate  func(f *authFixture)
		wantErr error
	}{
		{"suspended", func(f *authFixture) { f.tenant.Status = domain.TenantStatusSuspended }, domain.ErrTenantSuspended},
		{"deleted", func(f *authFixture) { f.tenant.DeletedAt = &past }, domain.ErrTenantNotFound},
		{"trial ended", func(f *authFixture) {
			f.tenant.Status = domain.TenantStatusTrial
			f.tenant.TrialEndsAt = &past
		}, domain.ErrTrialExpired},
		{"subscription cancelled", func(f *authFixture) {
			f.subs.subs[f.tenant.ID].Status = domain.SubscriptionCancelled
		}, domain.ErrSubscriptionInactive},
		{"subscription missing", func(f *authFixture) { delete(f.subs.subs, f.tenant.ID) }, domain.ErrSubscriptionInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			u := f.addUser(t, "ana@maple.test", "correct-horse", domain.RoleUser, &f.tenant.ID)
			res, err := f.svc.Login(context.Background(), LoginInput{Email: u.Email, Password: "correct-horse"})
			if err != nil {
				t.Fatalf("Login() error = %v", err)
			}

			tt.mutate(f)
			pair, err := f.sessions.RefreshSession(context.Background(), res.Tokens.RefreshToken, IssueOpts{})
			if !errors.Is(err, tt.wantErr) || pair != nil {
				t.Fatalf("RefreshSession() = %v, %v, want %v", pair, err, tt.wantErr)
			}
			if f.store.active(u.ID) != 0 {
				t.Error("session should be revoked")
			}
		})
	}
}

func TestSessionService_Refresh_SuperAdminInTenant(t *testing.T) {
	f := newAuthFixture(t)
	root := f.addUser(t, "root@portal.test", "correct-horse", domain.RoleSuperAdmin, nil)
	pair, err := f.sessions.IssueSession(context.Background(), root, IssueOpts{TenantID: &f.tenant.ID})
	if err != nil {
		t.Fatal(err)
	}

	f.subs.subs[f.tenant.ID].Status = domain.SubscriptionExpired
	if _, err := f.sessions.RefreshSession(context.Background(), pair.RefreshToken, IssueOpts{}); err != nil {
		t.Fatalf("refresh with lapsed subscription error = %v", err)
	}

	f.tenant.Status = domain.TenantStatusSuspended
	if _, err := f.sessions.RefreshSession(context.Background(), pair.RefreshToken, IssueOpts{}); !errors.Is(err, domain.ErrTenantSuspended) {
		t.Errorf("refresh in suspended tenant error = %v", err)
	}
}
