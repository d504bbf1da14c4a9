package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// UserStore persists users.
type UserStore interface {
	Create(ctx context.Context, user *domain.User) error
	Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.User, error)
	List(ctx context.Context, scope domain.Scope, filter domain.UserFilter) ([]*domain.User, int, error)
	ListActiveIDs(ctx context.Context, scope domain.Scope, tenantID uuid.UUID) ([]uuid.UUID, error)
	Update(ctx context.Context, scope domain.Scope, user *domain.User) error
	SetActive(ctx context.Context, scope domain.Scope, id uuid.UUID, active bool) error
}

// CredentialStore stores password hashes.
type CredentialStore interface {
	Upsert(ctx context.Context, cred *domain.UserPassword) error
}

// PasswordValidator checks a password against the configured policy.
type PasswordValidator interface {
	ValidatePassword(password string) error
}

// UserConfig controls account creation checks.
type UserConfig struct {
	StrictEmailValidation bool
	BlockDisposableEmail  bool
	LookupTimeout         time.Duration
}

// UserDeps are the collaborators of UserService.
type UserDeps struct {
	Tx            TxRunner
	Users         UserStore
	Creds         CredentialStore
	Tenants       TenantStore
	Subscriptions SubscriptionStore
	Sessions      SessionRevoker
	Policy        PasswordValidator
	Logger        *slog.Logger
}

// UserService manages the users of a tenant and keeps subscription seat
// usage in step with account changes.
type UserService struct {
	config        UserConfig
	tx            TxRunner
	users         UserStore
	creds         CredentialStore
	tenants       TenantStore
	subscriptions SubscriptionStore
	sessions      SessionRevoker
	policy        PasswordValidator
	logger        *slog.Logger
	now           func() time.Time
}

// NewUserService creates a user service.
func NewUserService(cfg UserConfig, deps UserDeps) *UserService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		config:        cfg,
		tx:            deps.Tx,
		users:         deps.Users,
		creds:         deps.Creds,
		tenants:       deps.Tenants,
		subscriptions: deps.Subscriptions,
		sessions:      deps.Sessions,
		policy:        deps.Policy,
		logger:        logger,
		now:           time.Now,
	}
}

// List returns users of the scope's tenant. Super admins without a tenant
// see every tenant.
func (s *UserService) List(ctx context.Context, scope domain.Scope, filter domain.UserFilter) (*domain.List[*domain.User], error) {
	if err := scope.RequireRole(domain.RoleAdmin); err != nil {
		return nil, err
	}
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	filter.Page = filter.Page.Normalize()
	users, total, err := s.users.List(ctx, scope, filter)
	if err != nil {
		return nil, err
	}
	return listOf(users, total, filter.Page), nil
}

// Get returns a user visible to scope. Non-admins may only read themselves.
func (s *UserService) Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.User, error) {
	if id != scope.UserID && !scope.Role.IsAdmin() {
		return nil, domain.ErrInsufficientRole
	}
	return s.users.Get(ctx, scope, id)
}

// CreateUserInput describes an account created by an administrator.
// TenantID is honoured for super admins only. An empty Password generates
// a temporary one.
type CreateUserInput struct {
	Email     string
	FirstName string
	LastName  string
	Role      domain.Role
	TenantID  *uuid.UUID
	Password  string
}

// CreateUserResult returns the new user and, when generated, the temporary
// password to hand over.
type CreateUserResult struct {
	User              *domain.User
	TemporaryPassword string
}

// Create adds a user to a tenant and claims a seat.
func (s *UserService) Create(ctx context.Context, scope domain.Scope, in CreateUserInput) (*CreateUserResult, error) {
	if err := scope.RequireRole(domain.RoleAdmin); err != nil {
		return nil, err
	}

	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}
	if !domain.CanAssign(scope.Role, role) {
		return nil, domain.ErrRoleAssignment
	}

	tenantID, err := s.targetTenant(scope, in.TenantID)
	if err != nil {
		return nil, err
	}

	email, err := auth.EmailRules{
		Strict:          s.config.StrictEmailValidation,
		BlockDisposable: s.config.BlockDisposableEmail,
	}.Check("email", in.Email)
	if err != nil {
		return nil, err
	}
	firstName := auth.SanitizeName(in.FirstName)
	lastName := auth.SanitizeName(in.LastName)
	if err := auth.ValidateStringLength("first name", firstName, 0, 100); err != nil {
		return nil, err
	}
	if err := auth.ValidateStringLength("last name", lastName, 0, 100); err != nil {
		return nil, err
	}

	password, temporary := in.Password, ""
	if password == "" {
		if password, err = auth.GenerateTemporaryPassword(); err != nil {
			return nil, err
		}
		temporary = password
	} else if s.policy != nil {
		if err := s.policy.ValidatePassword(password); err != nil {
			return nil, err
		}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &domain.User{
		ID:                 uuid.New(),
		TenantID:           &tenant.ID,
		Email:              email,
		FirstName:          firstName,
		LastName:           lastName,
		Role:               role,
		IsActive:           true,
		MustChangePassword: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.adjustSeats(ctx, tenant, 1, seatDelta(role)); err != nil {
			return err
		}
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		if err := s.creds.Upsert(ctx, &domain.UserPassword{UserID: user.ID, PasswordHash: hash, PasswordUpdatedAt: now}); err != nil {
			return fmt.Errorf("store password: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created", "user_id", user.ID, "tenant_id", tenant.ID, "role", role, "by", scope.UserID)
	return &CreateUserResult{User: user, TemporaryPassword: temporary}, nil
}

// UserUpdate carries optional user changes.
type UserUpdate struct {
	FirstName *string
	LastName  *string
	Role      *domain.Role
}

// Update changes a user's name or role. Anyone may rename themselves;
// everything else needs an administrator who outranks the target.
func (s *UserService) Update(ctx context.Context, scope domain.Scope, id uuid.UUID, upd UserUpdate) (*domain.User, error) {
	self := id == scope.UserID
	if self && upd.Role != nil {
		return nil, domain.ErrCannotModifySelf
	}

	var user *domain.User
	var err error
	if self {
		user, err = s.users.Get(ctx, scope, id)
	} else {
		user, err = s.manageable(ctx, scope, id)
	}
	if err != nil {
		return nil, err
	}

	if upd.FirstName != nil {
		user.FirstName = auth.SanitizeName(*upd.FirstName)
		if err := auth.ValidateStringLength("first name", user.FirstName, 0, 100); err != nil {
			return nil, err
		}
	}
	if upd.LastName != nil {
		user.LastName = auth.SanitizeName(*upd.LastName)
		if err := auth.ValidateStringLength("last name", user.LastName, 0, 100); err != nil {
			return nil, err
		}
	}

	oldRole := user.Role
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, domain.ErrInvalidRole
		}
		if !domain.CanAssign(scope.Role, *upd.Role) {
			return nil, domain.ErrRoleAssignment
		}
		user.Role = *upd.Role
	}
	adminDelta := seatDelta(user.Role) - seatDelta(oldRole)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if adminDelta != 0 && user.IsActive && user.TenantID != nil {
			tenant, err := s.tenants.GetByID(ctx, *user.TenantID)
			if err != nil {
				return err
			}
			if err := s.adjustSeats(ctx, tenant, 0, adminDelta); err != nil {
				return err
			}
		}
		return s.users.Update(ctx, scope, user)
	})
	if err != nil {
		return nil, err
	}

	user.UpdatedAt = s.now()
	if oldRole != user.Role {
		// Access tokens carry the role, so live sessions must end.
		if s.sessions != nil {
			if err := s.sessions.RevokeAllByUserID(ctx, user.ID); err != nil {
				s.logger.Error("failed to revoke sessions after role change", "user_id", user.ID, "error", err)
			}
		}
		s.logger.Info("user role changed", "user_id", user.ID, "from", oldRole, "to", user.Role, "by", scope.UserID)
	}
	return user, nil
}

// Deactivate disables a user, releases the seat and ends their sessions.
func (s *UserService) Deactivate(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	return s.setActive(ctx, scope, id, false)
}

// Reactivate re-enables a user if the tenant has a free seat.
func (s *UserService) Reactivate(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	return s.setActive(ctx, scope, id, true)
}

func (s *UserService) setActive(ctx context.Context, scope domain.Scope, id uuid.UUID, active bool) error {
	if id == scope.UserID {
		return domain.ErrCannotModifySelf
	}
	user, err := s.manageable(ctx, scope, id)
	if err != nil {
		return err
	}
	if user.IsActive == active {
		if active {
			return domain.Conflict("user is already active")
		}
		return domain.Conflict("user is already inactive")
	}

	delta := 1
	if !active {
		delta = -1
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if user.TenantID != nil {
			tenant, err := s.tenants.GetByID(ctx, *user.TenantID)
			if err != nil {
				return err
			}
			if err := s.adjustSeats(ctx, tenant, delta, delta*seatDelta(user.Role)); err != nil {
				return err
			}
		}
		return s.users.SetActive(ctx, scope, id, active)
	})
	if err != nil {
		return err
	}

	if !active && s.sessions != nil {
		if err := s.sessions.RevokeAllByUserID(ctx, id); err != nil {
			s.logger.Error("failed to revoke sessions of deactivated user", "user_id", id, "error", err)
		}
	}
	s.logger.Info("user active flag changed", "user_id", id, "active", active, "by", scope.UserID)
	return nil
}

// manageable loads a user the actor may administer.
func (s *UserService) manageable(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.User, error) {
	if err := scope.RequireRole(domain.RoleAdmin); err != nil {
		return nil, err
	}
	user, err := s.users.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if user.Role == domain.RoleSuperAdmin {
		return nil, domain.ErrSuperAdminProtected
	}
	if !domain.CanAssign(scope.Role, user.Role) {
		return nil, domain.ErrInsufficientRole
	}
	return user, nil
}

// targetTenant picks the tenant a new account joins.
func (s *UserService) targetTenant(scope domain.Scope, requested *uuid.UUID) (uuid.UUID, error) {
	if scope.IsSuperAdmin() {
		if requested != nil {
			return *requested, nil
		}
		if scope.TenantID != nil {
			return *scope.TenantID, nil
		}
		return uuid.Nil, domain.Validation("tenant_id is required")
	}
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return uuid.Nil, err
	}
	if requested != nil && *requested != tenantID {
		return uuid.Nil, domain.ErrCrossTenant
	}
	return tenantID, nil
}

// adjustSeats applies seat deltas to the tenant's subscription. Increments
// require a usable subscription and are bounded by the effective limits.
func (s *UserService) adjustSeats(ctx context.Context, tenant *domain.Tenant, users, admins int) error {
	if users == 0 && admins == 0 {
		return nil
	}
	sub, err := withTimeout(ctx, s.config.LookupTimeout, func(ctx context.Context) (*domain.Subscription, error) {
		return s.subscriptions.GetByTenant(ctx, tenant.ID)
	})
	if err != nil {
		return err
	}
	if (users > 0 || admins > 0) && !sub.IsUsable() {
		return domain.ErrSubscriptionInactive
	}
	maxUsers, maxAdmins := domain.SeatLimits(sub.Plan, tenant.Settings)
	return s.subscriptions.AdjustUsage(ctx, tenant.ID, users, admins, maxUsers, maxAdmins)
}

