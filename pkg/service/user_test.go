package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

func TestUserService_Create_IncrementsUsage(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()

	res, err := svc.Create(context.Background(), f.mapleAdmin.Scope(), CreateUserInput{
		Email:     "  Ana@Example.com ",
		FirstName: "Ana",
		LastName:  "Silva",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	u := res.User
	if u.Email != "ana@example.com" || u.Role != domain.RoleUser || !u.MustChangePassword || *u.TenantID != f.maple.ID {
		t.Errorf("user = %+v", u)
	}
	if res.TemporaryPassword == "" {
		t.Fatal("expected a temporary password")
	}
	if !auth.VerifyPassword(res.TemporaryPassword, f.creds.hashes[u.ID]) {
		t.Error("stored hash does not match temporary password")
	}
	if users, admins := f.subs.usage(f.maple.ID); users != 2 || admins != 1 {
		t.Errorf("usage = %d users / %d admins, want 2/1", users, admins)
	}
}

func TestUserService_Create_SeatLimits(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()
	scope := f.mapleAdmin.Scope()

	for _, email := range []string{"a@maple.test", "b@maple.test"} {
		if _, err := svc.Create(context.Background(), scope, CreateUserInput{Email: email}); err != nil {
			t.Fatalf("Create(%s) error = %v", email, err)
		}
	}

	_, err := svc.Create(context.Background(), scope, CreateUserInput{Email: "c@maple.test"})
	if !errors.Is(err, domain.ErrSubscriptionLimit) || domain.KindOf(err) != domain.KindLimitExceeded {
		t.Fatalf("Create() over limit error = %v, want ErrSubscriptionLimit", err)
	}
	if users, _ := f.subs.usage(f.maple.ID); users != 3 {
		t.Errorf("usage = %d, want 3", users)
	}

	// Tenant settings tighten plan limits.
	f.tenants.tenants[f.birch.ID].Settings = domain.TenantSettings{MaxUsers: 1}
	_, err = svc.Create(context.Background(), f.birchAdmin.Scope(), CreateUserInput{Email: "x@birch.test"})
	if !errors.Is(err, domain.ErrSubscriptionLimit) {
		t.Errorf("Create() over tenant setting error = %v", err)
	}
}

func TestUserService_Create_AdminLimit(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()

	_, err := svc.Create(context.Background(), f.mapleAdmin.Scope(), CreateUserInput{Email: "boss@maple.test", Role: domain.RoleAdmin})
	if !errors.Is(err, domain.ErrAdminLimit) {
		t.Fatalf("Create(admin) error = %v, want ErrAdminLimit", err)
	}
	if users, admins := f.subs.usage(f.maple.ID); users != 1 || admins != 1 {
		t.Errorf("usage changed on failure: %d/%d", users, admins)
	}
}

func TestUserService_Create_RoleAssignment(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()
	admin := f.addUser(f.birch, domain.RoleAdmin, "admin@birch.test")
	user := f.addUser(f.birch, domain.RoleUser, "user@birch.test")

	tests := []struct {
		name  string
		actor *domain.User
		role  domain.Role
		want  error
	}{
		{name: "admin cannot create tenant_admin", actor: admin, role: domain.RoleTenantAdmin, want: domain.ErrRoleAssignment},
		{name: "admin cannot create admin", actor: admin, role: domain.RoleAdmin, want: domain.ErrRoleAssignment},
		{name: "tenant_admin cannot create super_admin", actor: f.birchAdmin, role: domain.RoleSuperAdmin, want: domain.ErrRoleAssignment},
		{name: "user cannot create", actor: user, role: domain.RoleUser, want: domain.ErrInsufficientRole},
		{name: "unknown role", actor: f.birchAdmin, role: "owner", want: domain.ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.actor.Scope(), CreateUserInput{Email: uuid.NewString() + "@birch.test", Role: tt.role})
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := svc.Create(context.Background(), admin.Scope(), CreateUserInput{Email: "ok@birch.test"}); err != nil {
		t.Errorf("admin creating user error = %v", err)
	}
}

func TestUserService_Create_Validation(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()
	svc.policy = &auth.PasswordPolicy{MinLength: 8}

	_, err := svc.Create(context.Background(), f.birchAdmin.Scope(), CreateUserInput{Email: "not-an-email"})
	if domain.KindOf(err) != domain.KindValidation {
		t.Errorf("bad email error = %v", err)
	}
	_, err = svc.Create(context.Background(), f.birchAdmin.Scope(), CreateUserInput{Email: "short@birch.test", Password: "abc"})
	if domain.KindOf(err) != domain.KindValidation {
		t.Errorf("weak password error = %v", err)
	}
	_, err = svc.Create(context.Background(), f.birchAdmin.Scope(), CreateUserInput{Email: f.mapleAdmin.Email})
	if !errors.Is(err, domain.ErrUserAlreadyExists) {
		t.Errorf("duplicate email error = %v", err)
	}
	if users, _ := f.subs.usage(f.birch.ID); users != 1 {
		t.Errorf("failed creates changed usage to %d", users)
	}
}

func TestUserService_TenantIsolation(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()
	ctx := context.Background()
	mapleUser := f.addUser(f.maple, domain.RoleUser, "client@maple.test")
	birchUser := f.addUser(f.birch, domain.RoleUser, "client@birch.test")
	scope := f.mapleAdmin.Scope()

	list, err := svc.List(ctx, scope, domain.UserFilter{})
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range list.Items {
		if u.TenantID == nil || *u.TenantID != f.maple.ID {
			t.Errorf("List() leaked user %s of tenant %v", u.Email, u.TenantID)
		}
	}
	if list.Total != 2 {
		t.Errorf("List() total = %d, want 2", list.Total)
	}

	if _, err := svc.Get(ctx, scope, birchUser.ID); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Get(other tenant) error = %v, want ErrUserNotFound", err)
	}
	name := "Mallory"
	if _, err := svc.Update(ctx, scope, birchUser.ID, UserUpdate{FirstName: &name}); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Update(other tenant) error = %v", err)
	}
	if err := svc.Deactivate(ctx, scope, birchUser.ID); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Deactivate(other tenant) error = %v", err)
	}
	if !f.users.get(birchUser.ID).IsActive || f.users.get(birchUser.ID).FirstName != "" {
		t.Error("other tenant's user was modified")
	}
	if _, err := svc.Create(ctx, scope, CreateUserInput{Email: "x@birch.test", TenantID: &f.birch.ID}); !errors.Is(err, domain.ErrCrossTenant) {
		t.Errorf("Create(into other tenant) error = %v", err)
	}

	if _, err := svc.Get(ctx, scope, mapleUser.ID); err != nil {
		t.Errorf("Get(own tenant) error = %v", err)
	}

	all, err := svc.List(ctx, f.super.Scope(), domain.UserFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if all.Total != 5 {
		t.Errorf("super admin List() total = %d, want 5", all.Total)
	}
}

func TestUserService_Get_NonAdmin(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()
	u := f.addUser(f.maple, domain.RoleUser, "client@maple.test")

	if _, err := svc.Get(context.Background(), u.Scope(), u.ID); err != nil {
		t.Errorf("Get(self) error = %v", err)
	}
	if _, err := svc.Get(context.Background(), u.Scope(), f.mapleAdmin.ID); !errors.Is(err, domain.ErrInsufficientRole) {
		t.Errorf("Get(other) error = %v", err)
	}
	if _, err := svc.List(context.Background(), u.Scope(), domain.UserFilter{}); !errors.Is(err, domain.ErrInsufficientRole) {
		t.Errorf("List() error = %v", err)
	}
}

func TestUserService_DeactivateReactivate(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()
	ctx := context.Background()
	scope := f.birchAdmin.Scope()

	res, err := svc.Create(ctx, scope, CreateUserInput{Email: "staff@birch.test", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatal(err)
	}
	id := res.User.ID
	if users, admins := f.subs.usage(f.birch.ID); users != 2 || admins != 2 {
		t.Fatalf("usage after create = %d/%d", users, admins)
	}

	if err := svc.Deactivate(ctx, scope, id); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if f.users.get(id).IsActive {
		t.Error("user still active")
	}
	if users, admins := f.subs.usage(f.birch.ID); users != 1 || admins != 1 {
		t.Errorf("usage after deactivate = %d/%d, want 1/1", users, admins)
	}
	if len(f.sessions.revokedUsers) != 1 || f.sessions.revokedUsers[0] != id {
		t.Errorf("revoked = %v", f.sessions.revokedUsers)
	}
	if err := svc.Deactivate(ctx, scope, id); domain.KindOf(err) != domain.KindConflict {
		t.Errorf("second Deactivate() error = %v", err)
	}

	if err := svc.Reactivate(ctx, scope, id); err != nil {
		t.Fatalf("Reactivate() error = %v", err)
	}
	if users, admins := f.subs.usage(f.birch.ID); users != 2 || admins != 2 {
		t.Errorf("usage after reactivate = %d/%d, want 2/2", users, admins)
	}

	if err := svc.Deactivate(ctx, scope, f.birchAdmin.ID); !errors.Is(err, domain.ErrCannotModifySelf) {
		t.Errorf("Deactivate(self) error = %v", err)
	}
	if err := svc.Deactivate(ctx, f.super.Scope(), f.super.ID); !errors.Is(err, domain.ErrCannotModifySelf) {
		t.Errorf("super admin Deactivate(self) error = %v", err)
	}
}

func TestUserService_Reactivate_RespectsLimit(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()
	ctx := context.Background()
	scope := f.mapleAdmin.Scope()

	gone := f.addUser(f.maple, domain.RoleUser, "gone@maple.test")
	gone.IsActive = false
	for _, email := range []string{"a@maple.test", "b@maple.test"} {
		if _, err := svc.Create(ctx, scope, CreateUserInput{Email: email}); err != nil {
			t.Fatal(err)
		}
	}

	if err := svc.Reactivate(ctx, scope, gone.ID); !errors.Is(err, domain.ErrSubscriptionLimit) {
		t.Fatalf("Reactivate() at capacity error = %v", err)
	}
	if f.users.get(gone.ID).IsActive {
		t.Error("user reactivated despite limit")
	}
}

func TestUserService_Update(t *testing.T) {
	f := newFixture(t)
	svc := f.userService()
	ctx := context.Background()
	member := f.addUser(f.birch, domain.RoleUser, "member@birch.test")
	f.subs.subs[f.birch.ID].CurrentUsers = 2

	promote := domain.RoleAdmin
	u, err := svc.Update(ctx, f.birchAdmin.Scope(), member.ID, UserUpdate{Role: &promote})
	if err != nil {
		t.Fatalf("Update(role) error = %v", err)
	}
	if u.Role != domain.RoleAdmin {
		t.Errorf("role = %s", u.Role)
	}
	if users, admins := f.subs.usage(f.birch.ID); users != 2 || admins != 2 {
		t.Errorf("usage after promotion = %d/%d, want 2/2", users, admins)
	}

	demote := domain.RoleUser
	if _, err := svc.Update(ctx, f.birchAdmin.Scope(), member.ID, UserUpdate{Role: &demote}); err != nil {
		t.Fatal(err)
	}
	if _, admins := f.subs.usage(f.birch.ID); admins != 1 {
		t.Errorf("admins after demotion = %d, want 1", admins)
	}
	if got := f.sessions.revokedUsers; len(got) != 2 || got[0] != member.ID || got[1] != member.ID {
		t.Errorf("revoked after role changes = %v, want member twice", got)
	}

	// An admin cannot touch a tenant admin.
	admin := f.addUser(f.birch, domain.RoleAdmin, "admin@birch.test")
	name := "X"
	if _, err := svc.Update(ctx, admin.Scope(), f.birchAdmin.ID, UserUpdate{FirstName: &name}); !errors.Is(err, domain.ErrInsufficientRole) {
		t.Errorf("admin updating tenant admin error = %v", err)
	}

	// Users may rename themselves but not change their role.
	self := "Bea"
	if u, err := svc.Update(ctx, member.Scope(), member.ID, UserUpdate{FirstName: &self}); err != nil || u.FirstName != "Bea" {
		t.Errorf("self rename = %+v, %v", u, err)
	}
	if len(f.sessions.revokedUsers) != 2 {
		t.Errorf("rename revoked sessions: %v", f.sessions.revokedUsers)
	}
	if _, err := svc.Update(ctx, member.Scope(), member.ID, UserUpdate{Role: &promote}); !errors.Is(err, domain.ErrCannotModifySelf) {
		t.Errorf("self role change error = %v", err)
	}

	// Super admins are protected.
	if _, err := svc.Update(ctx, f.birchAdmin.Scope(), f.super.ID, UserUpdate{FirstName: &name}); err == nil {
		t.Error("expected error updating super admin")
	}
}
