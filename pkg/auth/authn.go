package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const (
	DefaultMaxFailedLogins   = 5
	DefaultLoginLockout      = 15 * time.Minute
	DefaultTrialDuration     = 14 * 24 * time.Hour
	DefaultPlanLookupTimeout = 5 * time.Second
	DefaultTrialPlanSlug     = "trial"
)

// ResetMailer delivers password reset links.
type ResetMailer interface {
	SendPasswordResetEmail(to, resetURL string) error
}

// AuthConfig tunes the login and registration flows.
type AuthConfig struct {
	MaxFailedLogins   int
	LoginLockout      time.Duration
	TrialDuration     time.Duration
	TrialPlanSlug     string
	PlanLookupTimeout time.Duration

	StrictEmailValidation bool
	BlockDisposableEmail  bool

	// AppBaseURL prefixes links in outgoing email.
	AppBaseURL string
}

// AuthService implements the account flows: register, login, MFA login,
// tenant switching and password management.
type AuthService struct {
	config        AuthConfig
	tx            TxRunner
	users         UserStore
	creds         CredentialStore
	tenants       TenantStore
	subscriptions SubscriptionStore
	sessions      *SessionService
	mfa           *MFAService
	verification  *VerificationService
	policy        *PasswordPolicy
	mailer        ResetMailer
	logger        *slog.Logger
	now           func() time.Time
}

// AuthDeps groups the collaborators of AuthService.
type AuthDeps struct {
	Tx            TxRunner
	Users         UserStore
	Creds         CredentialStore
	Tenants       TenantStore
	Subscriptions SubscriptionStore
	Sessions      *SessionService
	MFA           *MFAService
	Verification  *VerificationService
	Policy        *PasswordPolicy
	Mailer        ResetMailer
	Logger        *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(config AuthConfig, deps AuthDeps) *AuthService {
	if config.MaxFailedLogins <= 0 {
		config.MaxFailedLogins = DefaultMaxFailedLogins
	}
	if config.LoginLockout <= 0 {
		config.LoginLockout = DefaultLoginLockout
	}
	if config.TrialDuration <= 0 {
		config.TrialDuration = DefaultTrialDuration
	}
	if config.TrialPlanSlug == "" {
		config.TrialPlanSlug = DefaultTrialPlanSlug
	}
	if config.PlanLookupTimeout <= 0 {
		config.PlanLookupTimeout = DefaultPlanLookupTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		config:        config,
		tx:            deps.Tx,
		users:         deps.Users,
		creds:         deps.Creds,
		tenants:       deps.Tenants,
		subscriptions: deps.Subscriptions,
		sessions:      deps.Sessions,
		mfa:           deps.MFA,
		verification:  deps.Verification,
		policy:        deps.Policy,
		mailer:        deps.Mailer,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *AuthService) emailRules() EmailRules {
	return EmailRules{Strict: s.config.StrictEmailValidation, BlockDisposable: s.config.BlockDisposableEmail}
}

// ClientInfo describes the caller for session metadata.
type ClientInfo struct {
	IP        string
	UserAgent string
	Request   *http.Request
	// Tenant is the tenant resolved from the request, if any.
	Tenant *uuid.UUID
}

func (c ClientInfo) issueOpts() IssueOpts {
	return IssueOpts{IP: c.IP, UserAgent: c.UserAgent, Request: c.Request}
}

// RegisterInput is the self-service sign-up form. A TenantName creates a new
// tenant under TenantDomain; a TenantDomain alone joins that tenant as a user.
type RegisterInput struct {
	Email        string
	Password     string
	FirstName    string
	LastName     string
	TenantName   string
	TenantDomain string
	Client       ClientInfo
}

// AuthResult is returned by the login flows.
type AuthResult struct {
	User               *domain.User
	Tenant             *domain.Tenant
	Tokens             *domain.TokenPair
	MFARequired        bool
	ChallengeToken     string
	MustChangePassword bool
}

// Register creates an account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email, err := s.emailRules().Check("email", in.Email)
	if err != nil {
		return nil, err
	}

	if s.policy != nil {
		if err := s.policy.ValidatePassword(in.Password); err != nil {
			return nil, err
		}
	}

	firstName := SanitizeName(in.FirstName)
	lastName := SanitizeName(in.LastName)
	if err := ValidateStringLength("first name", firstName, 1, 100); err != nil {
		return nil, err
	}
	if err := ValidateStringLength("last name", lastName, 0, 100); err != nil {
		return nil, err
	}

	tenantDomain, err := domain.NormalizeTenantDomain(in.TenantDomain)
	if err != nil {
		return nil, err
	}
	tenantName := SanitizeName(in.TenantName)

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &domain.User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var tenant *domain.Tenant
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if tenantName != "" {
			tenant, err = s.createTrialTenant(ctx, tenantName, tenantDomain, email, now)
			if err != nil {
				return err
			}
			user.Role = domain.RoleTenantAdmin
		} else {
			tenant, err = s.tenants.GetByDomain(ctx, tenantDomain)
			if err != nil {
				return err
			}
			if err := tenant.CheckAccess(now); err != nil {
				return err
			}
			if err := s.claimSeat(ctx, tenant, domain.RoleUser); err != nil {
				return err
			}
			user.Role = domain.RoleUser
		}
		user.TenantID = &tenant.ID

		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		return s.creds.Upsert(ctx, &domain.UserPassword{
			UserID:            user.ID,
			PasswordHash:      hash,
			PasswordUpdatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "tenant_id", tenant.ID, "role", user.Role)

	tokens, err := s.sessions.IssueSession(ctx, user, in.Client.issueOpts())
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Tenant: tenant, Tokens: tokens}, nil
}

func (s *AuthService) createTrialTenant(ctx context.Context, name, tenantDomain, contactEmail string, now time.Time) (*domain.Tenant, error) {
	plan, err := s.lookupPlan(ctx, s.config.TrialPlanSlug)
	if err != nil {
		return nil, err
	}

	trialEnds := now.Add(s.config.TrialDuration)
	tenant := &domain.Tenant{
		ID:           uuid.New(),
		Name:         name,
		Domain:       tenantDomain,
		Status:       domain.TenantStatusTrial,
		ContactEmail: contactEmail,
		TrialEndsAt:  &trialEnds,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, err
	}

	err = s.subscriptions.Create(ctx, &domain.Subscription{
		ID:                 uuid.New(),
		TenantID:           tenant.ID,
		PlanID:             plan.ID,
		Status:             domain.SubscriptionTrialing,
		CurrentUsers:       1,
		CurrentAdmins:      1,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   &trialEnds,
		CreatedAt:          now,
		UpdatedAt:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return tenant, nil
}

// claimSeat increments usage for one new member of tenant, bounded by plan
// and tenant limits.
func (s *AuthService) claimSeat(ctx context.Context, tenant *domain.Tenant, role domain.Role) error {
	sub, err := s.lookupSubscription(ctx, tenant.ID)
	if err != nil {
		return err
	}
	if !sub.IsUsable() {
		return domain.ErrSubscriptionInactive
	}
	maxUsers, maxAdmins := domain.SeatLimits(sub.Plan, tenant.Settings)
	admins := 0
	if role.CountsAsAdmin() {
		admins = 1
	}
	return s.subscriptions.AdjustUsage(ctx, tenant.ID, 1, admins, maxUsers, maxAdmins)
}

func (s *AuthService) lookupPlan(ctx context.Context, slug string) (*domain.SubscriptionPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.PlanLookupTimeout)
	defer cancel()
	plan, err := s.subscriptions.GetPlanBySlug(ctx, slug)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, domain.ErrPlanLookupTimeout
	}
	return plan, err
}

func (s *AuthService) lookupSubscription(ctx context.Context, tenantID uuid.UUID) (*domain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.PlanLookupTimeout)
	defer cancel()
	sub, err := s.subscriptions.GetByTenant(ctx, tenantID)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, domain.ErrPlanLookupTimeout
	}
	return sub, err
}

// LoginInput carries credentials and the tenant resolved for the request, if any.
type LoginInput struct {
	Email         string
	Password      string
	RequestTenant *uuid.UUID
	Client        ClientInfo
}

// Login verifies credentials and either issues a session or, for MFA
// accounts, returns a challenge token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, domain.Validation("email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if user.IsLocked() {
		return nil, domain.ErrAccountLocked
	}
	if !user.IsActive {
		return nil, domain.ErrAccountInactive
	}

	cred, err := s.creds.GetByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if !VerifyPassword(in.Password, cred.PasswordHash) {
		if err := s.users.IncrementFailedLoginAttempts(ctx, user.ID, s.config.LoginLockout, s.config.MaxFailedLogins); err != nil {
			s.logger.Error("failed to record failed login", "user_id", user.ID, "error", err)
		}
		return nil, domain.ErrInvalidCredentials
	}

	if NeedsRehash(cred.PasswordHash) {
		s.upgradeHash(ctx, user.ID, in.Password)
	}

	var tenant *domain.Tenant
	if user.Role != domain.RoleSuperAdmin {
		if user.TenantID == nil {
			return nil, domain.ErrTenantRequired
		}
		if in.RequestTenant != nil && *in.RequestTenant != *user.TenantID {
			return nil, domain.ErrInvalidCredentials
		}
		tenant, err = s.checkTenantAccess(ctx, *user.TenantID)
		if err != nil {
			return nil, err
		}
	}

	result := &AuthResult{User: user, Tenant: tenant, MustChangePassword: user.MustChangePassword}

	if user.MFAEnabled {
		challenge := domain.MFAChallenge{UserID: user.ID, IP: in.Client.IP, UserAgent: in.Client.UserAgent}
		if user.TenantID != nil {
			challenge.TenantID = user.TenantID.String()
		}
		token, err := s.mfa.CreateChallenge(ctx, challenge)
		if err != nil {
			return nil, err
		}
		result.MFARequired = true
		result.ChallengeToken = token
		return result, nil
	}

	result.Tokens, err = s.startSession(ctx, user, in.Client.issueOpts())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkTenantAccess enforces tenant status and subscription state for a login.
func (s *AuthService) checkTenantAccess(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := tenant.CheckAccess(s.now()); err != nil {
		return nil, err
	}

	sub, err := s.lookupSubscription(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			return nil, domain.ErrSubscriptionInactive
		}
		return nil, err
	}
	if !sub.IsUsable() {
		return nil, domain.ErrSubscriptionInactive
	}
	return tenant, nil
}

func (s *AuthService) upgradeHash(ctx context.Context, userID uuid.UUID, password string) {
	hash, err := HashPassword(password)
	if err == nil {
		err = s.creds.Upsert(ctx, &domain.UserPassword{UserID: userID, PasswordHash: hash, PasswordUpdatedAt: s.now()})
	}
	if err != nil {
		s.logger.Warn("failed to upgrade password hash", "user_id", userID, "error", err)
	}
}

func (s *AuthService) startSession(ctx context.Context, user *domain.User, opts IssueOpts) (*domain.TokenPair, error) {
	if err := s.users.RecordLogin(ctx, user.ID); err != nil {
		s.logger.Error("failed to record login", "user_id", user.ID, "error", err)
	}
	return s.sessions.IssueSession(ctx, user, opts)
}

// CompleteMFALogin finishes a login that was paused for a second factor.
func (s *AuthService) CompleteMFALogin(ctx context.Context, challengeToken, code string, client ClientInfo) (*AuthResult, error) {
	challenge, err := s.mfa.VerifyChallenge(ctx, challengeToken, code, client.Tenant)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrAccountInactive
	}

	var tenant *domain.Tenant
	if user.Role != domain.RoleSuperAdmin && user.TenantID != nil {
		tenant, err = s.checkTenantAccess(ctx, *user.TenantID)
		if err != nil {
			return nil, err
		}
	}

	opts := client.issueOpts()
	opts.MFAVerified = true
	tokens, err := s.startSession(ctx, user, opts)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Tenant: tenant, Tokens: tokens, MustChangePassword: user.MustChangePassword}, nil
}

// SwitchTenant issues a session bound to tenantID. Only a super admin may
// enter another tenant; everyone else may only re-enter their own.
func (s *AuthService) SwitchTenant(ctx context.Context, scope domain.Scope, tenantID uuid.UUID, mfaVerified bool, client ClientInfo) (*AuthResult, error) {
	if scope.IsImpersonating() {
		return nil, domain.Forbidden("cannot switch tenant while impersonating")
	}
	if !scope.IsSuperAdmin() && (scope.TenantID == nil || *scope.TenantID != tenantID) {
		s.logger.Warn("cross-tenant switch denied", "user_id", scope.UserID, "tenant_id", tenantID)
		return nil, domain.ErrCrossTenant
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := tenant.CheckAccess(s.now()); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, scope.UserID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, domain.ErrAccountInactive
	}

	opts := client.issueOpts()
	opts.MFAVerified = mfaVerified
	opts.TenantID = &tenant.ID
	tokens, err := s.sessions.IssueSession(ctx, user, opts)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Tenant: tenant, Tokens: tokens}, nil
}

// ChangePassword replaces the password after checking the current one and
// signs the user out everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	cred, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if !VerifyPassword(current, cred.PasswordHash) {
		return domain.ErrInvalidCredentials
	}
	if VerifyPassword(next, cred.PasswordHash) {
		return domain.ErrSamePassword
	}
	return s.setPassword(ctx, userID, next)
}

func (s *AuthService) setPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if s.policy != nil {
		if err := s.policy.ValidatePassword(password); err != nil {
			return err
		}
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.creds.Upsert(ctx, &domain.UserPassword{UserID: userID, PasswordHash: hash, PasswordUpdatedAt: s.now()}); err != nil {
			return err
		}
		return s.users.MarkPasswordChanged(ctx, userID, false)
	})
	if err != nil {
		return err
	}

	if err := s.sessions.RevokeAllSessions(ctx, userID); err != nil {
		s.logger.Error("failed to revoke sessions after password change", "user_id", userID, "error", err)
	}
	return nil
}

// RequestPasswordReset emails a reset link. Unknown or inactive accounts
// succeed silently so the endpoint does not reveal which emails exist.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, client ClientInfo) error {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !user.IsActive {
		return nil
	}

	token, err := s.verification.IssuePasswordReset(ctx, user.ID, domain.TokenOrigin{
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
	if err != nil {
		return err
	}

	if s.mailer == nil {
		s.logger.Warn("password reset requested but email is not configured", "user_id", user.ID)
		return nil
	}
	resetURL := strings.TrimRight(s.config.AppBaseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordResetEmail(user.Email, resetURL); err != nil {
		s.logger.Error("failed to send password reset email", "user_id", user.ID, "error", err)
	}
	return nil
}

// ResetPassword redeems a reset token and sets a new password.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	if s.policy != nil {
		if err := s.policy.ValidatePassword(password); err != nil {
			return err
		}
	}
	userID, err := s.verification.RedeemPasswordReset(ctx, token)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, userID, password)
}

// EnsureSuperAdmin creates the bootstrap super admin if the email is unused.
// It reports whether an account was created.
func (s *AuthService) EnsureSuperAdmin(ctx context.Context, email, password string) (bool, error) {
	email = NormalizeEmail(email)
	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return false, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	now := s.now()
	user := &domain.User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: "Super",
		LastName:  "Admin",
		Role:      domain.RoleSuperAdmin,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		return s.creds.Upsert(ctx, &domain.UserPassword{UserID: user.ID, PasswordHash: hash, PasswordUpdatedAt: now})
	})
	if err != nil {
		return false, err
	}
	s.logger.Info("super admin created", "user_id", user.ID, "email", email)
	return true, nil
}
