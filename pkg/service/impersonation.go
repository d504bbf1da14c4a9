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

const maxImpersonationReasonLen = 500

// ImpersonationStore persists impersonation records.
type ImpersonationStore interface {
	Create(ctx context.Context, i *domain.Impersonation) error
	Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.Impersonation, error)
	List(ctx context.Context, scope domain.Scope, activeOnly bool, page domain.Page) ([]*domain.Impersonation, int, error)
	End(ctx context.Context, scope domain.Scope, id uuid.UUID) error
	EndExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// SessionIssuer issues sessions for a user.
type SessionIssuer interface {
	IssueSession(ctx context.Context, user *domain.User, opts auth.IssueOpts) (*domain.TokenPair, error)
}

// ImpersonationService lets privileged users act as another user for a
// bounded time.
type ImpersonationService struct {
	tx             TxRunner
	impersonations ImpersonationStore
	users          UserLookup
	issuer         SessionIssuer
	sessions       SessionRevoker
	logger         *slog.Logger
	now            func() time.Time
}

func NewImpersonationService(tx TxRunner, impersonations ImpersonationStore, users UserLookup, issuer SessionIssuer, sessions SessionRevoker, logger *slog.Logger) *ImpersonationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImpersonationService{
		tx:             tx,
		impersonations: impersonations,
		users:          users,
		issuer:         issuer,
		sessions:       sessions,
		logger:         logger,
		now:            time.Now,
	}
}

// StartImpersonationInput describes an impersonation request.
type StartImpersonationInput struct {
	TargetUserID uuid.UUID
	Reason       string
	Duration     time.Duration
	MFAVerified  bool
	Client       auth.ClientInfo
}

// ImpersonationResult is a started impersonation and the target's tokens.
type ImpersonationResult struct {
	Impersonation *domain.Impersonation
	RiskLevel     string
	Tokens        *domain.TokenPair
}

// Start begins acting as the target user. Super admins may impersonate any
// non-super-admin; tenant admins only users of their tenant below them.
func (s *ImpersonationService) Start(ctx context.Context, scope domain.Scope, in StartImpersonationInput) (*ImpersonationResult, error) {
	if scope.IsImpersonating() {
		return nil, domain.ErrImpersonationNested
	}
	if err := scope.RequireRole(domain.RoleTenantAdmin); err != nil {
		return nil, err
	}
	if in.TargetUserID == scope.UserID {
		return nil, domain.ErrImpersonationNotAllow
	}

	reason := auth.SanitizeText(in.Reason)
	if err := auth.ValidateStringLength("reason", reason, 1, maxImpersonationReasonLen); err != nil {
		return nil, err
	}
	duration := in.Duration
	switch {
	case duration < 0:
		return nil, domain.Validation("duration must be positive")
	case duration == 0:
		duration = domain.DefaultImpersonationDuration
	case duration > domain.MaxImpersonationDuration:
		duration = domain.MaxImpersonationDuration
	}

	target, err := s.users.GetByID(ctx, in.TargetUserID)
	if err != nil {
		return nil, err
	}
	if !scope.CanAccessRecord(target.TenantID) {
		return nil, domain.ErrUserNotFound
	}
	if target.Role == domain.RoleSuperAdmin || (!scope.IsSuperAdmin() && target.Role.AtLeast(scope.Role)) {
		return nil, domain.ErrImpersonationNotAllow
	}
	if !target.IsActive {
		return nil, domain.ErrAccountInactive
	}

	now := s.now()
	crossTenant := scope.TenantID == nil || target.TenantID == nil || *scope.TenantID != *target.TenantID
	imp := &domain.Impersonation{
		ID:             uuid.New(),
		ImpersonatorID: scope.UserID,
		TargetUserID:   target.ID,
		TenantID:       target.TenantID,
		Reason:         reason,
		IP:             in.Client.IP,
		UserAgent:      in.Client.UserAgent,
		StartedAt:      now,
		ExpiresAt:      now.Add(duration),
	}
	imp.RiskScore = domain.ComputeRiskScore(domain.RiskFactors{
		CrossTenant: crossTenant,
		TargetRole:  target.Role,
		Duration:    duration,
		StartedAt:   now,
		Reason:      reason,
	})

	var tokens *domain.TokenPair
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.impersonations.Create(ctx, imp); err != nil {
			return err
		}
		impersonator := scope.UserID
		tokens, err = s.issuer.IssueSession(ctx, target, auth.IssueOpts{
			MFAVerified:     in.MFAVerified,
			ImpersonationID: &imp.ID,
			ImpersonatorID:  &impersonator,
			Lifetime:        duration,
			IP:              in.Client.IP,
			UserAgent:       in.Client.UserAgent,
			Request:         in.Client.Request,
		})
		if err != nil {
			return fmt.Errorf("issue impersonation session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	level := imp.RiskLevel()
	log := s.logger.Info
	if level == "high" {
		log = s.logger.Warn
	}
	log("impersonation started",
		"impersonation_id", imp.ID,
		"impersonator_id", scope.UserID,
		"target_user_id", target.ID,
		"risk_score", imp.RiskScore,
		"risk_level", level,
		"expires_at", imp.ExpiresAt,
	)
	return &ImpersonationResult{Impersonation: imp, RiskLevel: level, Tokens: tokens}, nil
}

// End stops an impersonation and revokes its sessions. The impersonation
// session itself may end its own impersonation.
func (s *ImpersonationService) End(ctx context.Context, scope domain.Scope, id uuid.UUID) error {
	own := scope.ImpersonationID != nil && *scope.ImpersonationID == id
	if !own {
		if scope.IsImpersonating() {
			return domain.ErrImpersonationNotFound
		}
		if err := scope.RequireRole(domain.RoleTenantAdmin); err != nil {
			return err
		}
	}
	if err := s.impersonations.End(ctx, scope, id); err != nil {
		return err
	}
	if err := s.sessions.RevokeByImpersonation(ctx, id); err != nil {
		return fmt.Errorf("revoke impersonation sessions: %w", err)
	}
	s.logger.Info("impersonation ended", "impersonation_id", id, "by", scope.UserID)
	return nil
}

// ListActive returns impersonations still in effect.
func (s *ImpersonationService) ListActive(ctx context.Context, scope domain.Scope, page domain.Page) (*domain.List[*domain.Impersonation], error) {
	return s.list(ctx, scope, true, page)
}

// History returns all impersonations visible to scope.
func (s *ImpersonationService) History(ctx context.Context, scope domain.Scope, page domain.Page) (*domain.List[*domain.Impersonation], error) {
	return s.list(ctx, scope, false, page)
}

func (s *ImpersonationService) list(ctx context.Context, scope domain.Scope, activeOnly bool, page domain.Page) (*domain.List[*domain.Impersonation], error) {
	if err := scope.RequireRole(domain.RoleTenantAdmin); err != nil {
		return nil, err
	}
	page = page.Normalize()
	items, total, err := s.impersonations.List(ctx, scope, activeOnly, page)
	if err != nil {
		return nil, err
	}
	return listOf(items, total, page), nil
}

// ExpireStale closes impersonations past their expiry and revokes their
// sessions.
func (s *ImpersonationService) ExpireStale(ctx context.Context) (int, error) {
	ids, err := s.impersonations.EndExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.sessions.RevokeByImpersonation(ctx, id); err != nil {
			s.logger.Error("failed to revoke expired impersonation sessions", "impersonation_id", id, "error", err)
		}
	}
	return len(ids), nil
}
