package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const (
	refreshTokenLen = 32

	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// SessionConfig holds session configuration.
type SessionConfig struct {
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	JWTSecret          []byte
	Issuer             string
	FingerprintEnabled bool
	DetectReuseEnabled bool
}

// SessionService issues and validates sessions. Every auth flow ends here.
type SessionService struct {
	config   SessionConfig
	sessions      SessionStore
	users         UserStore
	tenants       TenantStore
	subscriptions SubscriptionStore
	now           func() time.Time
}

// NewSessionService creates a new session service. With tenants set, a
// refresh is refused once the session's tenant can no longer sign in;
// subscriptions may be nil to check tenant status only.
func NewSessionService(config SessionConfig, sessions SessionStore, users UserStore, tenants TenantStore, subscriptions SubscriptionStore) *SessionService {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	return &SessionService{
		config:        config,
		sessions:      sessions,
		users:         users,
		tenants:       tenants,
		subscriptions: subscriptions,
		now:           time.Now,
	}
}

// AccessTokenTTL returns the access token TTL.
func (s *SessionService) AccessTokenTTL() time.Duration {
	return s.config.AccessTokenTTL
}

// RefreshTokenTTL returns the refresh token TTL.
func (s *SessionService) RefreshTokenTTL() time.Duration {
	return s.config.RefreshTokenTTL
}

// IssueOpts holds options for session issuance.
type IssueOpts struct {
	// TenantID overrides the user's own tenant. Only a super admin switching
	// into a tenant sets it.
	TenantID *uuid.UUID

	MFAVerified bool

	// Set for impersonation sessions.
	ImpersonationID *uuid.UUID
	ImpersonatorID  *uuid.UUID

	// Lifetime caps the refresh token lifetime below the configured TTL.
	Lifetime time.Duration

	IP        string
	UserAgent string
	// Request supplies IP and User-Agent when they are not set above.
	Request *http.Request
}

// AccessTokenClaims represents the claims in an access token.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	TenantID        string      `json:"tid,omitempty"`
	Role            domain.Role `json:"role"`
	MFAVerified     bool        `json:"mfa,omitempty"`
	ImpersonationID string      `json:"imp,omitempty"`
	ImpersonatorID  string      `json:"impb,omitempty"`
}

// SessionID returns the session the token belongs to.
func (c *AccessTokenClaims) SessionID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidToken
	}
	return id, nil
}

// Scope converts verified claims into the request scope.
func (c *AccessTokenClaims) Scope() (domain.Scope, error) {
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return domain.Scope{}, domain.ErrInvalidToken
	}
	scope := domain.Scope{UserID: userID, Role: c.Role}
	if c.TenantID != "" {
		tid, err := uuid.Parse(c.TenantID)
		if err != nil {
			return domain.Scope{}, domain.ErrInvalidToken
		}
		scope.TenantID = &tid
	}
	if c.ImpersonationID != "" {
		impID, err := uuid.Parse(c.ImpersonationID)
		if err != nil {
			return domain.Scope{}, domain.ErrInvalidToken
		}
		byID, err := uuid.Parse(c.ImpersonatorID)
		if err != nil {
			return domain.Scope{}, domain.ErrInvalidToken
		}
		scope.ImpersonationID = &impID
		scope.ImpersonatorID = &byID
	}
	if err := scope.Validate(); err != nil {
		return domain.Scope{}, err
	}
	return scope, nil
}

// IssueSession creates a new session for user and returns access/refresh tokens.
func (s *SessionService) IssueSession(ctx context.Context, user *domain.User, opts IssueOpts) (*domain.TokenPair, error) {
	now := s.now()

	refreshToken, err := GenerateToken(refreshTokenLen)
	if err != nil {
		return nil, err
	}

	tenantID := user.TenantID
	if opts.TenantID != nil {
		tenantID = opts.TenantID
	}

	ttl := s.config.RefreshTokenTTL
	if opts.Lifetime > 0 && opts.Lifetime < ttl {
		ttl = opts.Lifetime
	}

	metadata := domain.SessionMetadata{
		IP:          opts.IP,
		UserAgent:   opts.UserAgent,
		MFAVerified: opts.MFAVerified,
	}
	if opts.ImpersonatorID != nil {
		metadata.ImpersonatorID = opts.ImpersonatorID.String()
	}
	if fp, ok := fingerprintFor(opts); ok && s.config.FingerprintEnabled {
		fp.stamp(&metadata)
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:              uuid.New(),
		UserID:          user.ID,
		TenantID:        tenantID,
		ImpersonationID: opts.ImpersonationID,
		TokenHash:       HashToken(refreshToken),
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		Metadata:        metadataJSON,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	return s.signPair(session, user.Role, metadata, refreshToken, now)
}

// RefreshSession mints a new access token for a live refresh token.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string, opts IssueOpts) (*domain.TokenPair, error) {
	session, err := s.sessions.GetByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		return nil, err
	}

	if session.RevokedAt != nil {
		return nil, domain.ErrSessionRevoked
	}
	if !s.now().Before(session.ExpiresAt) {
		return nil, domain.ErrSessionExpired
	}

	var metadata domain.SessionMetadata
	if len(session.Metadata) > 0 {
		if err := json.Unmarshal(session.Metadata, &metadata); err != nil {
			return nil, err
		}
	}

	// A refresh from another device is refused. With reuse detection the
	// token is treated as stolen and the session ends.
	if fp, ok := fingerprintFor(opts); ok && s.config.FingerprintEnabled && fp.changed(metadata) != "" {
		if s.config.DetectReuseEnabled {
			_ = s.sessions.Revoke(ctx, session.ID)
		}
		return nil, domain.ErrSessionFingerprint
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		_ = s.sessions.Revoke(ctx, session.ID)
		return nil, domain.ErrAccountInactive
	}
	if session.TenantID != nil {
		if err := s.checkTenant(ctx, *session.TenantID, user.Role); err != nil {
			if domain.KindOf(err) != domain.KindInternal {
				_ = s.sessions.Revoke(ctx, session.ID)
			}
			return nil, err
		}
	}

	_ = s.sessions.UpdateLastSeen(ctx, session.ID)

	return s.signPair(session, user.Role, metadata, refreshToken, s.now())
}

// checkTenant applies the sign-in checks for tenantID. A super admin switched
// into a tenant is held to the tenant status alone.
func (s *SessionService) checkTenant(ctx context.Context, tenantID uuid.UUID, role domain.Role) error {
	if s.tenants == nil {
		return nil
	}
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := tenant.CheckAccess(s.now()); err != nil {
		return err
	}
	if role == domain.RoleSuperAdmin || s.subscriptions == nil {
		return nil
	}
	sub, err := s.subscriptions.GetByTenant(ctx, tenantID)
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		return domain.ErrSubscriptionInactive
	}
	if err != nil {
		return err
	}
	if !sub.IsUsable() {
		return domain.ErrSubscriptionInactive
	}
	return nil
}

func (s *SessionService) signPair(session *domain.Session, role domain.Role, metadata domain.SessionMetadata, refreshToken string, now time.Time) (*domain.TokenPair, error) {
	expiry := now.Add(s.config.AccessTokenTTL)
	if session.ExpiresAt.Before(expiry) {
		expiry = session.ExpiresAt
	}

	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			Issuer:    s.config.Issuer,
			ID:        session.ID.String(),
		},
		Role:           role,
		MFAVerified:    metadata.MFAVerified,
		ImpersonatorID: metadata.ImpersonatorID,
	}
	if session.TenantID != nil {
		claims.TenantID = session.TenantID.String()
	}
	if session.ImpersonationID != nil {
		claims.ImpersonationID = session.ImpersonationID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(expiry.Sub(now).Seconds()),
		ExpiresAt:    expiry,
	}, nil
}

// RevokeSession revokes a session by refresh token.
func (s *SessionService) RevokeSession(ctx context.Context, refreshToken string) error {
	return s.sessions.RevokeByTokenHash(ctx, HashToken(refreshToken))
}

// RevokeSessionByID revokes the session behind an access token.
func (s *SessionService) RevokeSessionByID(ctx context.Context, id uuid.UUID) error {
	return s.sessions.Revoke(ctx, id)
}

// RevokeAllSessions revokes all sessions for a user.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeAllByUserID(ctx, userID)
}

// IsSessionActive reports whether the session behind an access token is
// still live. Access tokens outlive revocation otherwise.
func (s *SessionService) IsSessionActive(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.sessions.IsActive(ctx, id)
}

// ValidateAccessToken validates an access token and returns the claims.
func (s *SessionService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return s.config.JWTSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, domain.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrInvalidToken
	}

	return claims, nil
}
