package common

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// UserView is the public shape of a user.
type UserView struct {
	ID                 uuid.UUID   `json:"id"`
	TenantID           *uuid.UUID  `json:"tenant_id,omitempty"`
	Email              string      `json:"email"`
	FirstName          string      `json:"first_name"`
	LastName           string      `json:"last_name"`
	Role               domain.Role `json:"role"`
	IsActive           bool        `json:"is_active"`
	MFAEnabled         bool        `json:"mfa_enabled"`
	MustChangePassword bool        `json:"must_change_password"`
	LastLoginAt        *time.Time  `json:"last_login_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
}

// NewUserView converts a user. Credentials and lockout counters stay out.
func NewUserView(u *domain.User) *UserView {
	if u == nil {
		return nil
	}
	return &UserView{
		ID:                 u.ID,
		TenantID:           u.TenantID,
		Email:              u.Email,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Role:               u.Role,
		IsActive:           u.IsActive,
		MFAEnabled:         u.MFAEnabled,
		MustChangePassword: u.MustChangePassword,
		LastLoginAt:        u.LastLoginAt,
		CreatedAt:          u.CreatedAt,
	}
}

// TenantView is the public shape of a tenant.
type TenantView struct {
	ID           uuid.UUID             `json:"id"`
	Name         string                `json:"name"`
	Domain       string                `json:"domain"`
	Status       domain.TenantStatus   `json:"status"`
	ContactEmail string                `json:"contact_email,omitempty"`
	ContactPhone string                `json:"contact_phone,omitempty"`
	Settings     domain.TenantSettings `json:"settings"`
	TrialEndsAt  *time.Time            `json:"trial_ends_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func NewTenantView(t *domain.Tenant) *TenantView {
	if t == nil {
		return nil
	}
	return &TenantView{
		ID:           t.ID,
		Name:         t.Name,
		Domain:       t.Domain,
		Status:       t.Status,
		ContactEmail: t.ContactEmail,
		ContactPhone: t.ContactPhone,
		Settings:     t.Settings,
		TrialEndsAt:  t.TrialEndsAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// AuthResponse is returned by every flow that signs a user in.
type AuthResponse struct {
	User               *UserView      `json:"user,omitempty"`
	Tenant             *TenantView    `json:"tenant,omitempty"`
	Tokens             *TokenResponse `json:"tokens,omitempty"`
	MFARequired        bool           `json:"mfa_required,omitempty"`
	ChallengeToken     string         `json:"challenge_token,omitempty"`
	MustChangePassword bool           `json:"must_change_password,omitempty"`
}

// NewAuthResponse converts an auth result, delivering its tokens through tw.
// A pending MFA challenge carries no user details.
func NewAuthResponse(w http.ResponseWriter, r *http.Request, tw TokenWriter, res *auth.AuthResult) AuthResponse {
	if res.MFARequired {
		return AuthResponse{MFARequired: true, ChallengeToken: res.ChallengeToken}
	}
	return AuthResponse{
		User:               NewUserView(res.User),
		Tenant:             NewTenantView(res.Tenant),
		Tokens:             tw.Write(w, r, res.Tokens),
		MustChangePassword: res.MustChangePassword,
	}
}

// ListView is a page of converted items.
type ListView[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// MapList converts every item of a page.
func MapList[S, T any](l *domain.List[S], conv func(S) T) ListView[T] {
	items := make([]T, 0, len(l.Items))
	for _, it := range l.Items {
		items = append(items, conv(it))
	}
	return ListView[T]{Items: items, Total: l.Total, Limit: l.Limit, Offset: l.Offset}
}
