package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fixture holds two tenants, each with a tenant admin and an active
// subscription. Maple is on the small starter plan; Birch on pro.
type fixture struct {
	t *testing.T

	starter, pro, trial *domain.SubscriptionPlan
	maple, birch        *domain.Tenant
	mapleAdmin          *domain.User
	birchAdmin          *domain.User
	super               *domain.User

	tenants  *fakeTenants
	subs     *fakeSubscriptions
	users    *fakeUsers
	creds    *fakeCreds
	sessions *fakeSessions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t}

	f.trial = &domain.SubscriptionPlan{ID: uuid.New(), Name: "Trial", Slug: "trial", Interval: "month", MaxUsers: 3, MaxAdmins: 1, IsActive: true}
	f.starter = &domain.SubscriptionPlan{ID: uuid.New(), Name: "Starter", Slug: "starter", PriceCents: 4900, Interval: "month", MaxUsers: 3, MaxAdmins: 1, IsActive: true}
	f.pro = &domain.SubscriptionPlan{ID: uuid.New(), Name: "Pro", Slug: "pro", PriceCents: 19900, Interval: "year", MaxUsers: 10, MaxAdmins: 3, IsActive: true}
	f.subs = newFakeSubscriptions(f.trial, f.starter, f.pro)

	now := time.Now()
	f.maple = &domain.Tenant{ID: uuid.New(), Name: "Maple Immigration", Domain: "maple", Status: domain.TenantStatusActive, CreatedAt: now}
	f.birch = &domain.Tenant{ID: uuid.New(), Name: "Birch Visa", Domain: "birch", Status: domain.TenantStatusActive, CreatedAt: now}
	f.tenants = newFakeTenants(f.maple, f.birch)

	f.subs.subs[f.maple.ID] = &domain.Subscription{ID: uuid.New(), TenantID: f.maple.ID, PlanID: f.starter.ID, Status: domain.SubscriptionActive, CurrentUsers: 1, CurrentAdmins: 1}
	f.subs.subs[f.birch.ID] = &domain.Subscription{ID: uuid.New(), TenantID: f.birch.ID, PlanID: f.pro.ID, Status: domain.SubscriptionActive, CurrentUsers: 1, CurrentAdmins: 1}

	f.users = newFakeUsers()
	f.creds = &fakeCreds{}
	f.sessions = &fakeSessions{}
	f.mapleAdmin = f.addUser(f.maple, domain.RoleTenantAdmin, "owner@maple.test")
	f.birchAdmin = f.addUser(f.birch, domain.RoleTenantAdmin, "owner@birch.test")
	f.super = f.users.add(&domain.User{ID: uuid.New(), Email: "root@portal.test", Role: domain.RoleSuperAdmin, IsActive: true})
	return f
}

// addUser inserts a user directly, without touching seat usage.
func (f *fixture) addUser(tenant *domain.Tenant, role domain.Role, email string) *domain.User {
	tid := tenant.ID
	return f.users.add(&domain.User{ID: uuid.New(), TenantID: &tid, Email: email, Role: role, IsActive: true})
}

func (f *fixture) userService() *UserService {
	return NewUserService(UserConfig{}, UserDeps{
		Tx:            fakeTx{},
		Users:         f.users,
		Creds:         f.creds,
		Tenants:       f.tenants,
		Subscriptions: f.subs,
		Sessions:      f.sessions,
		Logger:        discard,
	})
}
