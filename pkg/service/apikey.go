package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const (
	apiKeyPrefix    = "ipk"
	apiKeySecretLen = 32
	maxAPIKeyName   = 100

	APIKeyScopeRead  = "read"
	APIKeyScopeWrite = "write"
)

// APIKeyStore persists API keys.
type APIKeyStore interface {
	Create(ctx context.Context, k *domain.APIKey) error
	GetByPrefix(ctx context.Context, prefix string) (*domain.APIKey, error)
	List(ctx context.Context, scope domain.Scope) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, scope domain.Scope, id uuid.UUID) error
	Touch(ctx context.Context, id uuid.UUID) error
}

// UserLookup loads users by id without tenant scoping.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// APIKeyService issues and verifies API keys.
type APIKeyService struct {
	keys    APIKeyStore
	users   UserLookup
	tenants TenantStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewAPIKeyService(keys APIKeyStore, users UserLookup, tenants TenantStore, logger *slog.Logger) *APIKeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyService{keys: keys, users: users, tenants: tenants, logger: logger, now: time.Now}
}

// CreateAPIKeyInput describes a new key. A zero TTL never expires.
type CreateAPIKeyInput struct {
	Name   string
	Scopes []string
	TTL    time.Duration
}

// Create issues a key for the caller's tenant. The plaintext key is
// returned once and never stored.
func (s *APIKeyService) Create(ctx context.Context, scope domain.Scope, in CreateAPIKeyInput) (*domain.APIKey, string, error) {
	if err := scope.RequireRole(domain.RoleAdmin); err != nil {
		return nil, "", err
	}
	if scope.IsImpersonating() {
		return nil, "", domain.Forbidden("API keys cannot be created while impersonating")
	}
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, "", err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > maxAPIKeyName {
		return nil, "", domain.Validation("name is required and must be at most %d characters", maxAPIKeyName)
	}
	scopes := in.Scopes
	if len(scopes) == 0 {
		scopes = []string{APIKeyScopeRead}
	}
	for _, sc := range scopes {
		if sc != APIKeyScopeRead && sc != APIKeyScopeWrite {
			return nil, "", domain.Validation("unknown API key scope %q", sc)
		}
	}
	if in.TTL < 0 {
		return nil, "", domain.Validation("expiry must be in the future")
	}

	prefixBytes := make([]byte, 4)
	if _, err := rand.Read(prefixBytes); err != nil {
		return nil, "", err
	}
	prefix := hex.EncodeToString(prefixBytes)
	secret, err := auth.GenerateToken(apiKeySecretLen)
	if err != nil {
		return nil, "", err
	}
	raw := apiKeyPrefix + "_" + prefix + "_" + secret

	now := s.now()
	key := &domain.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		UserID:    scope.UserID,
		Name:      name,
		Prefix:    prefix,
		KeyHash:   auth.HashToken(raw),
		Scopes:    slices.Compact(slices.Sorted(slices.Values(scopes))),
		CreatedAt: now,
	}
	if in.TTL > 0 {
		exp := now.Add(in.TTL)
		key.ExpiresAt = &exp
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, "", err
	}
	s.logger.Info("api key created", "api_key_id", key.ID, "tenant_id", tenantID, "by", scope.UserID)
	return key, raw, nil
}

// List returns the keys of the caller's tenant.
func (s *APIKeyService) List(ctx context.Context, scope domain.Scope) ([]*domain.APIKey, error) {
	if err := scope.RequireRole(domain.RoleAdmin); err != nil {
		return nil, err
	}
	keys, err := s.keys.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []*domain.APIKey{}
	}
	return keys, nil
}

// Revoke disables a key of the caller's tenant.
func (s *APIKeyService) Revoke(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	if err := scope.RequireRole(domain.RoleAdmin); err != nil {
		return err
	}
	if err := s.keys.Revoke(ctx, scope, id); err != nil {
		return err
	}
	s.logger.Info("api key revoked", "api_key_id", id, "by", scope.UserID)
	return nil
}

// Authenticate resolves a raw key to the scope it acts under. Keys act as
// their creator, capped at tenant_admin and pinned to the key's tenant.
func (s *APIKeyService) Authenticate(ctx context.Context, raw string) (domain.Scope, *domain.APIKey, error) {
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) != 3 || parts[0] != apiKeyPrefix || parts[1] == "" || parts[2] == "" {
		return domain.Scope{}, nil, domain.ErrAPIKeyInvalid
	}

	key, err := s.keys.GetByPrefix(ctx, parts[1])
	if err != nil {
		return domain.Scope{}, nil, domain.ErrAPIKeyInvalid
	}
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(auth.HashToken(raw))) != 1 {
		return domain.Scope{}, nil, domain.ErrAPIKeyInvalid
	}
	if !key.IsActive(s.now()) {
		return domain.Scope{}, nil, domain.ErrAPIKeyInvalid
	}

	user, err := s.users.GetByID(ctx, key.UserID)
	if err != nil || !user.IsActive {
		return domain.Scope{}, nil, domain.ErrAPIKeyInvalid
	}
	tenant, err := s.tenants.GetByID(ctx, key.TenantID)
	if err != nil {
		return domain.Scope{}, nil, domain.ErrAPIKeyInvalid
	}
	if err := tenant.CheckAccess(s.now()); err != nil {
		return domain.Scope{}, nil, err
	}

	role := user.Role
	if role == domain.RoleSuperAdmin {
		role = domain.RoleTenantAdmin
	}

	if err := s.keys.Touch(ctx, key.ID); err != nil {
		s.logger.Warn("failed to record api key use", "api_key_id", key.ID, "error", err)
	}
	tenantID := key.TenantID
	return domain.Scope{UserID: key.UserID, TenantID: &tenantID, Role: role}, key, nil
}

// AllowsWrite reports whether a key may call mutating endpoints.
func AllowsWrite(key *domain.APIKey) bool {
	return slices.Contains(key.Scopes, APIKeyScopeWrite)
}
