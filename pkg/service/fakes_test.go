package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// visible mirrors the repositories' tenant predicate.
func visible(scope domain.Scope, tenantID *uuid.UUID) bool {
	filter := scope.FilterArg()
	if filter == nil {
		return true
	}
	return tenantID != nil && *tenantID == *filter
}

func paginate[T any](items []T, p domain.Page) []T {
	p = p.Normalize()
	if p.Offset >= len(items) {
		return nil
	}
	end := p.Offset + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[p.Offset:end]
}

type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeTenants struct {
	mu      sync.Mutex
	tenants map[uuid.UUID]*domain.Tenant
	gets    int
}

func newFakeTenants(ts ...*domain.Tenant) *fakeTenants {
	f := &fakeTenants{tenants: make(map[uuid.UUID]*domain.Tenant)}
	for _, t := range ts {
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
	if !ok || t.DeletedAt != nil {
		return nil, domain.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTenants) GetByDomain(_ context.Context, name string) (*domain.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	for _, t := range f.tenants {
		if t.Domain == name && t.DeletedAt == nil {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrTenantNotFound
}

func (f *fakeTenants) List(_ context.Context, filter domain.TenantFilter) ([]*domain.Tenant, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Tenant
	for _, t := range f.tenants {
		if t.DeletedAt == nil && (filter.Status == "" || t.Status == filter.Status) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return paginate(out, filter.Page), len(out), nil
}

func (f *fakeTenants) Update(_ context.Context, t *domain.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tenants[t.ID]; !ok {
		return domain.ErrTenantNotFound
	}
	cp := *t
	f.tenants[t.ID] = &cp
	return nil
}

func (f *fakeTenants) SetStatus(_ context.Context, id uuid.UUID, status domain.TenantStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.Status = status
	return nil
}

func (f *fakeTenants) SoftDelete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok || t.DeletedAt != nil {
		return domain.ErrTenantNotFound
	}
	now := time.Now()
	t.DeletedAt = &now
	return nil
}

func (f *fakeTenants) ListExpiredTrials(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, t := range f.tenants {
		if t.Status == domain.TenantStatusTrial && t.TrialEndsAt != nil && !t.TrialEndsAt.After(now) {
			ids = append(ids, t.ID)
		}
	}
	return ids, nil
}

type fakeCache struct {
	entries map[string]*domain.Tenant
	deletes []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*domain.Tenant)}
}

func (c *fakeCache) Get(_ context.Context, name string) (*domain.Tenant, bool) {
	t, ok := c.entries[name]
	return t, ok
}

func (c *fakeCache) Set(_ context.Context, t *domain.Tenant) {
	c.entries[t.Domain] = t
}

func (c *fakeCache) Delete(_ context.Context, name string) {
	delete(c.entries, name)
	c.deletes = append(c.deletes, name)
}

type fakeSubscriptions struct {
	mu    sync.Mutex
	plans map[string]*domain.SubscriptionPlan
	subs  map[uuid.UUID]*domain.Subscription
	delay time.Duration
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

func (f *fakeSubscriptions) wait(ctx context.Context) error {
	if f.delay == 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSubscriptions) ListPlans(ctx context.Context) ([]*domain.SubscriptionPlan, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SubscriptionPlan
	for _, p := range f.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out, nil
}

func (f *fakeSubscriptions) GetPlanBySlug(ctx context.Context, slug string) (*domain.SubscriptionPlan, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[slug]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	return p, nil
}

func (f *fakeSubscriptions) planByID(id uuid.UUID) *domain.SubscriptionPlan {
	for _, p := range f.plans {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (f *fakeSubscriptions) Create(_ context.Context, s *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[s.TenantID] = s
	return nil
}

func (f *fakeSubscriptions) GetByTenant(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[tenantID]
	if !ok {
		return nil, domain.ErrSubscriptionNotFound
	}
	cp := *s
	cp.Plan = f.planByID(s.PlanID)
	return &cp, nil
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
	s.CurrentUsers = max(s.CurrentUsers+users, 0)
	s.CurrentAdmins = max(s.CurrentAdmins+admins, 0)
	return nil
}

func (f *fakeSubscriptions) ChangePlan(_ context.Context, tenantID, planID uuid.UUID, status domain.SubscriptionStatus, periodEnd *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[tenantID]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	s.PlanID = planID
	s.Status = status
	s.CurrentPeriodEnd = periodEnd
	s.CancelledAt = nil
	return nil
}

func (f *fakeSubscriptions) SetStatus(_ context.Context, tenantID uuid.UUID, status domain.SubscriptionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[tenantID]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeSubscriptions) usage(tenantID uuid.UUID) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.subs[tenantID]
	return s.CurrentUsers, s.CurrentAdmins
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[uuid.UUID]*domain.User)}
}

func (f *fakeUsers) add(u *domain.User) *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return u
}

func (f *fakeUsers) Create(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return domain.ErrUserAlreadyExists
		}
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) Get(_ context.Context, scope domain.Scope, id uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || !visible(scope, u.TenantID) {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) List(_ context.Context, scope domain.Scope, filter domain.UserFilter) ([]*domain.User, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.User
	for _, u := range f.users {
		if !visible(scope, u.TenantID) {
			continue
		}
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.IsActive != nil && u.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return paginate(out, filter.Page), len(out), nil
}

func (f *fakeUsers) ListActiveIDs(_ context.Context, scope domain.Scope, tenantID uuid.UUID) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, u := range f.users {
		if u.IsActive && u.TenantID != nil && *u.TenantID == tenantID && visible(scope, u.TenantID) {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func (f *fakeUsers) Update(_ context.Context, scope domain.Scope, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[user.ID]
	if !ok || !visible(scope, u.TenantID) {
		return domain.ErrUserNotFound
	}
	u.FirstName, u.LastName, u.Role = user.FirstName, user.LastName, user.Role
	return nil
}

func (f *fakeUsers) SetActive(_ context.Context, scope domain.Scope, id uuid.UUID, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || !visible(scope, u.TenantID) {
		return domain.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func (f *fakeUsers) get(id uuid.UUID) *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id]
}

type fakeCreds struct {
	hashes map[uuid.UUID]string
}

func (f *fakeCreds) Upsert(_ context.Context, c *domain.UserPassword) error {
	if f.hashes == nil {
		f.hashes = make(map[uuid.UUID]string)
	}
	f.hashes[c.UserID] = c.PasswordHash
	return nil
}

type fakeSessions struct {
	revokedUsers          []uuid.UUID
	revokedTenants        []uuid.UUID
	revokedImpersonations []uuid.UUID
}

func (f *fakeSessions) RevokeAllByTenant(_ context.Context, tenantID uuid.UUID) error {
	f.revokedTenants = append(f.revokedTenants, tenantID)
	return nil
}

func (f *fakeSessions) RevokeAllByUserID(_ context.Context, userID uuid.UUID) error {
	f.revokedUsers = append(f.revokedUsers, userID)
	return nil
}

func (f *fakeSessions) RevokeByImpersonation(_ context.Context, id uuid.UUID) error {
	f.revokedImpersonations = append(f.revokedImpersonations, id)
	return nil
}

type fakeProfiles struct {
	profiles map[uuid.UUID]*domain.Profile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[uuid.UUID]*domain.Profile)}
}

func (f *fakeProfiles) GetByUser(_ context.Context, scope domain.Scope, userID uuid.UUID) (*domain.Profile, error) {
	p, ok := f.profiles[userID]
	if !ok || !visible(scope, &p.TenantID) {
		return nil, domain.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) List(_ context.Context, scope domain.Scope, pg domain.Page) ([]*domain.Profile, int, error) {
	var out []*domain.Profile
	for _, p := range f.profiles {
		if visible(scope, &p.TenantID) {
			out = append(out, p)
		}
	}
	return paginate(out, pg), len(out), nil
}

func (f *fakeProfiles) Save(_ context.Context, p *domain.Profile) error {
	if existing, ok := f.profiles[p.UserID]; ok && existing.TenantID != p.TenantID {
		return domain.ErrProfileNotFound
	}
	cp := *p
	f.profiles[p.UserID] = &cp
	return nil
}

type fakeDocuments struct {
	docs map[uuid.UUID]*domain.Document
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{docs: make(map[uuid.UUID]*domain.Document)}
}

func (f *fakeDocuments) Create(_ context.Context, d *domain.Document) error {
	cp := *d
	f.docs[d.ID] = &cp
	return nil
}

func (f *fakeDocuments) Get(_ context.Context, scope domain.Scope, id uuid.UUID) (*domain.Document, error) {
	d, ok := f.docs[id]
	if !ok || !visible(scope, &d.TenantID) {
		return nil, domain.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDocuments) List(_ context.Context, scope domain.Scope, ownerID *uuid.UUID, pg domain.Page) ([]*domain.Document, int, error) {
	var out []*domain.Document
	for _, d := range f.docs {
		if visible(scope, &d.TenantID) && (ownerID == nil || d.UserID == *ownerID) {
			out = append(out, d)
		}
	}
	return paginate(out, pg), len(out), nil
}

func (f *fakeDocuments) MarkUploaded(_ context.Context, scope domain.Scope, id uuid.UUID, size int64) error {
	d, ok := f.docs[id]
	if !ok || !visible(scope, &d.TenantID) {
		return domain.ErrDocumentNotFound
	}
	d.Status = domain.DocumentUploaded
	d.SizeBytes = size
	return nil
}

func (f *fakeDocuments) Delete(_ context.Context, scope domain.Scope, id uuid.UUID) error {
	d, ok := f.docs[id]
	if !ok || !visible(scope, &d.TenantID) {
		return domain.ErrDocumentNotFound
	}
	delete(f.docs, id)
	return nil
}

type fakeStorage struct {
	objects map[string]int64
	deleted []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]int64)}
}

func (f *fakeStorage) PresignPut(_ context.Context, key, _ string, _ int64, _ time.Duration) (string, error) {
	return "https://storage.test/put/" + key, nil
}

func (f *fakeStorage) PresignGet(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://storage.test/get/" + key, nil
}

func (f *fakeStorage) Head(_ context.Context, key string) (int64, error) {
	size, ok := f.objects[key]
	if !ok {
		return 0, domain.ErrDocumentNotUploaded
	}
	return size, nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeNotifications struct {
	items []*domain.Notification
}

func (f *fakeNotifications) CreateBatch(_ context.Context, ns []*domain.Notification) error {
	f.items = append(f.items, ns...)
	return nil
}

func (f *fakeNotifications) mine(scope domain.Scope, userID uuid.UUID, n *domain.Notification) bool {
	return n.UserID == userID && visible(scope, &n.TenantID)
}

func (f *fakeNotifications) ListForUser(_ context.Context, scope domain.Scope, userID uuid.UUID, unreadOnly bool, pg domain.Page) ([]*domain.Notification, int, error) {
	var out []*domain.Notification
	for _, n := range f.items {
		if f.mine(scope, userID, n) && (!unreadOnly || !n.IsRead()) {
			out = append(out, n)
		}
	}
	return paginate(out, pg), len(out), nil
}

func (f *fakeNotifications) CountUnread(_ context.Context, scope domain.Scope, userID uuid.UUID) (int, error) {
	n := 0
	for _, item := range f.items {
		if f.mine(scope, userID, item) && !item.IsRead() {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, scope domain.Scope, userID, id uuid.UUID) error {
	for _, n := range f.items {
		if n.ID == id && f.mine(scope, userID, n) {
			now := time.Now()
			n.ReadAt = &now
			return nil
		}
	}
	return domain.ErrNotificationNotFound
}

func (f *fakeNotifications) MarkAllRead(_ context.Context, scope domain.Scope, userID uuid.UUID) (int64, error) {
	var count int64
	for _, n := range f.items {
		if f.mine(scope, userID, n) && !n.IsRead() {
			now := time.Now()
			n.ReadAt = &now
			count++
		}
	}
	return count, nil
}

func (f *fakeNotifications) Delete(_ context.Context, scope domain.Scope, userID, id uuid.UUID) error {
	for i, n := range f.items {
		if n.ID == id && f.mine(scope, userID, n) {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotificationNotFound
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
}

func (m *fakeMailer) SendNotificationEmail(to, subject, body string) error {
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

type fakeAPIKeys struct {
	keys    map[uuid.UUID]*domain.APIKey
	touched int
}

func newFakeAPIKeys() *fakeAPIKeys {
	return &fakeAPIKeys{keys: make(map[uuid.UUID]*domain.APIKey)}
}

func (f *fakeAPIKeys) Create(_ context.Context, k *domain.APIKey) error {
	cp := *k
	f.keys[k.ID] = &cp
	return nil
}

func (f *fakeAPIKeys) GetByPrefix(_ context.Context, prefix string) (*domain.APIKey, error) {
	for _, k := range f.keys {
		if k.Prefix == prefix {
			cp := *k
			return &cp, nil
		}
	}
	return nil, domain.ErrAPIKeyNotFound
}

func (f *fakeAPIKeys) List(_ context.Context, scope domain.Scope) ([]*domain.APIKey, error) {
	var out []*domain.APIKey
	for _, k := range f.keys {
		if visible(scope, &k.TenantID) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeAPIKeys) Revoke(_ context.Context, scope domain.Scope, id uuid.UUID) error {
	k, ok := f.keys[id]
	if !ok || k.RevokedAt != nil || !visible(scope, &k.TenantID) {
		return domain.ErrAPIKeyNotFound
	}
	now := time.Now()
	k.RevokedAt = &now
	return nil
}

func (f *fakeAPIKeys) Touch(context.Context, uuid.UUID) error {
	f.touched++
	return nil
}

type fakeImpersonations struct {
	items map[uuid.UUID]*domain.Impersonation
	now   func() time.Time
}

func newFakeImpersonations() *fakeImpersonations {
	return &fakeImpersonations{items: make(map[uuid.UUID]*domain.Impersonation), now: time.Now}
}

func (f *fakeImpersonations) Create(_ context.Context, i *domain.Impersonation) error {
	cp := *i
	f.items[i.ID] = &cp
	return nil
}

func (f *fakeImpersonations) Get(_ context.Context, scope domain.Scope, id uuid.UUID) (*domain.Impersonation, error) {
	i, ok := f.items[id]
	if !ok || !visible(scope, i.TenantID) {
		return nil, domain.ErrImpersonationNotFound
	}
	cp := *i
	return &cp, nil
}

func (f *fakeImpersonations) List(_ context.Context, scope domain.Scope, activeOnly bool, pg domain.Page) ([]*domain.Impersonation, int, error) {
	var out []*domain.Impersonation
	for _, i := range f.items {
		if visible(scope, i.TenantID) && (!activeOnly || i.IsActive(f.now())) {
			out = append(out, i)
		}
	}
	return paginate(out, pg), len(out), nil
}

func (f *fakeImpersonations) End(_ context.Context, scope domain.Scope, id uuid.UUID) error {
	i, ok := f.items[id]
	if !ok || i.EndedAt != nil || !visible(scope, i.TenantID) {
		return domain.ErrImpersonationNotFound
	}
	now := f.now()
	i.EndedAt = &now
	return nil
}

func (f *fakeImpersonations) EndExpired(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, i := range f.items {
		if i.EndedAt == nil && !i.ExpiresAt.After(now) {
			end := i.ExpiresAt
			i.EndedAt = &end
			ids = append(ids, i.ID)
		}
	}
	return ids, nil
}

type issued struct {
	user *domain.User
	opts auth.IssueOpts
}

type fakeIssuer struct {
	calls []issued
}

func (f *fakeIssuer) IssueSession(_ context.Context, user *domain.User, opts auth.IssueOpts) (*domain.TokenPair, error) {
	f.calls = append(f.calls, issued{user: user, opts: opts})
	return &domain.TokenPair{AccessToken: "access-" + user.ID.String(), RefreshToken: "refresh", TokenType: "Bearer"}, nil
}
