package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newFakeUsers(users ...*domain.User) *fakeUsers {
	f := &fakeUsers{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return domain.ErrUserAlreadyExists
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (f *fakeUsers) IncrementFailedLoginAttempts(_ context.Context, userID uuid.UUID, lockout time.Duration, maxAttempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	if u.LockedUntil != nil && !u.LockedUntil.After(time.Now()) {
		u.FailedLoginAttempts, u.LockedUntil = 0, nil
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= maxAttempts {
		until := time.Now().Add(lockout)
		u.LockedUntil = &until
	}
	return nil
}

func (f *fakeUsers) RecordLogin(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	now := time.Now()
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now
	return nil
}

func (f *fakeUsers) UpdateMFAEnabled(_ context.Context, userID uuid.UUID, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID].MFAEnabled = enabled
	return nil
}

func (f *fakeUsers) MarkPasswordChanged(_ context.Context, userID uuid.UUID, mustChange bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.users[userID]
	now := time.Now()
	u.MustChangePassword = mustChange
	u.PasswordChangedAt = &now
	return nil
}

type fakeCreds struct {
	mu    sync.Mutex
	creds map[uuid.UUID]*domain.UserPassword
}

func newFakeCreds() *fakeCreds {
	return &fakeCreds{creds: make(map[uuid.UUID]*domain.UserPassword)}
}

func (f *fakeCreds) Upsert(_ context.Context, cred *domain.UserPassword) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *cred
	f.creds[cred.UserID] = &c
	return nil
}

func (f *fakeCreds) GetByUserID(_ context.Context, userID uuid.UUID) (*domain.UserPassword, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return c, nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[uuid.UUID]*domain.Session)}
}

func (f *fakeSessions) Create(_ context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) GetByTokenHash(_ context.Context, hash string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.TokenHash == hash && s.RevokedAt == nil {
			return s, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

func (f *fakeSessions) Revoke(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		now := time.Now()
		s.RevokedAt = &now
	}
	return nil
}

func (f *fakeSessions) RevokeByTokenHash(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.TokenHash == hash {
			now := time.Now()
			s.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeSessions) RevokeAllByUserID(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			now := time.Now()
			s.RevokedAt = &now
		}
	}
	return nil
}

func (f *fakeSessions) IsActive(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	return ok && s.IsValid(), nil
}

func (f *fakeSessions) UpdateLastSeen(context.Context, uuid.UUID) error { return nil }

func (f *fakeSessions) active(userID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sessions {
		if s.UserID == userID && s.IsValid() {
			n++
		}
	}
	return n
}

type fakeMFASettings struct {
	mu       sync.Mutex
	settings map[uuid.UUID]*domain.MFASettings
}

func newFakeMFASettings() *fakeMFASettings {
	return &fakeMFASettings{settings: make(map[uuid.UUID]*domain.MFASettings)}
}

func (f *fakeMFASettings) Upsert(_ context.Context, s *domain.MFASettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *s
	c.FailedAttempts = 0
	c.LockedUntil = nil
	if old, ok := f.settings[s.UserID]; ok && old.IsLocked(time.Now()) {
		c.FailedAttempts, c.LockedUntil = old.FailedAttempts, old.LockedUntil
	}
	f.settings[s.UserID] = &c
	return nil
}

func (f *fakeMFASettings) GetByUserID(_ context.Context, userID uuid.UUID) (*domain.MFASettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[userID]
	if !ok {
		return nil, domain.ErrMFANotSetup
	}
	c := *s
	return &c, nil
}

func (f *fakeMFASettings) SetEnabled(_ context.Context, userID uuid.UUID, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[userID]
	if !ok {
		return domain.ErrMFANotSetup
	}
	s.Enabled = enabled
	return nil
}

func (f *fakeMFASettings) RecordFailure(_ context.Context, userID uuid.UUID, maxAttempts int, lockout time.Duration) (int, *time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[userID]
	if !ok {
		return 0, nil, domain.ErrMFANotSetup
	}
	if s.LockedUntil != nil && !s.LockedUntil.After(time.Now()) {
		s.FailedAttempts, s.LockedUntil = 0, nil
	}
	s.FailedAttempts++
	if s.FailedAttempts >= maxAttempts {
		until := time.Now().Add(lockout)
		s.LockedUntil = &until
	}
	return s.FailedAttempts, s.LockedUntil, nil
}

func (f *fakeMFASettings) RecordSuccess(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.settings[userID]; ok {
		s.FailedAttempts = 0
		s.LockedUntil = nil
	}
	return nil
}

func (f *fakeMFASettings) Delete(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.settings, userID)
	return nil
}

type fakeRecoveryCodes struct {
	mu    sync.Mutex
	codes map[uuid.UUID]map[string]bool // hash -> used
}

func newFakeRecoveryCodes() *fakeRecoveryCodes {
	return &fakeRecoveryCodes{codes: make(map[uuid.UUID]map[string]bool)}
}

func (f *fakeRecoveryCodes) ReplaceAll(_ context.Context, userID uuid.UUID, codes []*domain.MFARecoveryCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[c.CodeHash] = false
	}
	f.codes[userID] = m
	return nil
}

func (f *fakeRecoveryCodes) Consume(_ context.Context, userID uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	used, ok := f.codes[userID][hash]
	if !ok || used {
		return domain.ErrInvalidRecoveryCode
	}
	f.codes[userID][hash] = true
	return nil
}

func (f *fakeRecoveryCodes) CountUnused(_ context.Context, userID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, used := range f.codes[userID] {
		if !used {
			n++
		}
	}
	return n, nil
}

func (f *fakeRecoveryCodes) DeleteForUser(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.codes, userID)
	return nil
}

type fakeTokens struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]*domain.VerificationToken
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{tokens: make(map[uuid.UUID]*domain.VerificationToken)}
}

func (f *fakeTokens) Create(_ context.Context, t *domain.VerificationToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[t.ID] = t
	return nil
}

func (f *fakeTokens) SupersedeOutstanding(_ context.Context, userID uuid.UUID, purpose domain.TokenPurpose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, t := range f.tokens {
		if t.UserID == userID && t.Purpose == purpose && t.Redeemable(now) == nil {
			t.ConsumedAt = &now
		}
	}
	return nil
}

func (f *fakeTokens) Redeem(_ context.Context, hash string, purpose domain.TokenPurpose, now time.Time) (*domain.VerificationToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.Hash != hash || t.Purpose != purpose {
			continue
		}
		if err := t.Redeemable(now); err != nil {
			return nil, err
		}
		t.ConsumedAt = &now
		return t, nil
	}
	return nil, domain.ErrVerificationTokenInvalid
}

type fakeTenants struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*domain.Tenant
}

func newFakeTenants(tenants ...*domain.Tenant) *fakeTenants {
	f := &fakeTenants{tenants: make(map[uuid.UUID]*domain.Tenant)}
	for _, t := range tenants {
		f.tenants[t.ID] = t
	}
	return f
}

func (f *fakeTenants) Create(_ context.Context, t *domain.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.tenants {
		if existing.Domain == t.Domain {
			return domain.ErrTenantDomainTaken
		}
	}
	f.tenants[t.ID] = t
	return nil
}

func (f *fakeTenants) GetByID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	return t, nil
}

func (f *fakeTenants) GetByDomain(_ context.Context, d string) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tenants {
		if t.Domain == d {
			return t, nil
		}
	}
	return nil, domain.ErrTenantNotFound
}

type fakeSubscriptions struct {
	mu    sync.Mutex
	plans map[string]*domain.SubscriptionPlan
	subs  map[uuid.UUID]*domain.Subscription
}

func newFakeSubscriptions(plans ...*domain.SubscriptionPlan) *fakeSubscriptions {
	f := &fakeSubscriptions{
		plans: make(map[string]*domain.SubscriptionPlan),
		subs:  make(map[uuid.UUID]*domain.Subscription),
	}
	for _, p := range plans {
		f.plans[p.Slug] = p
	}
	return f
}

func (f *fakeSubscriptions) GetPlanBySlug(_ context.Context, slug string) (*domain.SubscriptionPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[slug]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return p, nil
}

func (f *fakeSubscriptions) Create(_ context.Context, s *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.plans {
		if p.ID == s.PlanID {
			s.Plan = p
		}
	}
	f.subs[s.TenantID] = s
	return nil
}

func (f *fakeSubscriptions) GetByTenant(_ context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[tenantID]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	c := *s
	return &c, nil
}

func (f *fakeSubscriptions) AdjustUsage(_ context.Context, tenantID uuid.UUID, users, admins, maxUsers, maxAdmins int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[tenantID]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	if users > 0 && maxUsers > 0 && s.CurrentUsers+users > maxUsers {
		return domain.ErrSubscriptionLimit
	}
	if admins > 0 && maxAdmins > 0 && s.CurrentAdmins+admins > maxAdmins {
		return domain.ErrAdminLimit
	}
	s.CurrentUsers += users
	s.CurrentAdmins += admins
	return nil
}

type fakeMailer struct {
	to, url string
}

func (m *fakeMailer) SendPasswordResetEmail(to, resetURL string) error {
	m.to, m.url = to, resetURL
	return nil
}
