package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// ProfileStore persists immigration profiles.
type ProfileStore interface {
	GetByUser(ctx context.Context, scope domain.Scope, userID uuid.UUID) (*domain.Profile, error)
	List(ctx context.Context, scope domain.Scope, page domain.Page) ([]*domain.Profile, int, error)
	Save(ctx context.Context, p *domain.Profile) error
}

// ProfileService manages immigration profiles.
type ProfileService struct {
	profiles ProfileStore
	now      func() time.Time
}

func NewProfileService(profiles ProfileStore) *ProfileService {
	return &ProfileService{profiles: profiles, now: time.Now}
}

// GetMine returns the caller's profile. A caller without one gets an empty,
// unsaved profile.
func (s *ProfileService) GetMine(ctx context.Context, scope domain.Scope) (*domain.Profile, error) {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}
	p, err := s.profiles.GetByUser(ctx, scope, scope.UserID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		return &domain.Profile{UserID: scope.UserID, TenantID: tenantID}, nil
	}
	return p, err
}

// UpdateMine merges submitted sections into the caller's profile, creating
// it on first write.
func (s *ProfileService) UpdateMine(ctx context.Context, scope domain.Scope, upd domain.ProfileUpdate) (*domain.Profile, error) {
	tenantID, err := scope.RequireTenant()
	if err != nil {
		return nil, err
	}
	for name, raw := range map[string]json.RawMessage{
		domain.SectionPersonal:   upd.Personal,
		domain.SectionEducation:  upd.Education,
		domain.SectionEmployment: upd.Employment,
		domain.SectionTravel:     upd.Travel,
		domain.SectionCRS:        upd.CRSInputs,
	} {
		if err := validateSection(name, raw); err != nil {
			return nil, err
		}
	}
	for factor, pts := range upd.CRSBreakdown {
		if pts < 0 || pts > 1200 {
			return nil, domain.Validation("crs breakdown %q must be between 0 and 1200", factor)
		}
	}

	now := s.now()
	p, err := s.profiles.GetByUser(ctx, scope, scope.UserID)
	switch {
	case errors.Is(err, domain.ErrProfileNotFound):
		p = &domain.Profile{ID: uuid.New(), UserID: scope.UserID, TenantID: tenantID, CreatedAt: now}
	case err != nil:
		return nil, err
	}

	upd.Apply(p)
	p.UpdatedAt = now
	if err := s.profiles.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetForUser returns another user's profile to an administrator of the
// same tenant.
func (s *ProfileService) GetForUser(ctx context.Context, scope domain.Scope, userID uuid.UUID) (*domain.Profile, error) {
	if userID != scope.UserID {
		if err := scope.RequireRole(domain.RoleAdmin); err != nil {
			return nil, err
		}
	}
	return s.profiles.GetByUser(ctx, scope, userID)
}

// List returns the profiles of the scope's tenant.
func (s *ProfileService) List(ctx context.Context, scope domain.Scope, page domain.Page) (*domain.List[*domain.Profile], error) {
	if err := scope.RequireRole(domain.RoleAdmin); err != nil {
		return nil, err
	}
	page = page.Normalize()
	profiles, total, err := s.profiles.List(ctx, scope, page)
	if err != nil {
		return nil, err
	}
	return listOf(profiles, total, page), nil
}

// validateSection accepts an absent section, null, or a JSON object.
func validateSection(name string, raw json.RawMessage) error {
	if raw == nil {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return domain.Validation("%s must be a JSON object", name)
	}
	return nil
}
