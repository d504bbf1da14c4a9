package profiles

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// Service is the part of service.ProfileService the handler uses.
type Service interface {
	GetMine(ctx context.Context, scope domain.Scope) (*domain.Profile, error)
	UpdateMine(ctx context.Context, scope domain.Scope, upd domain.ProfileUpdate) (*domain.Profile, error)
	GetForUser(ctx context.Context, scope domain.Scope, userID uuid.UUID) (*domain.Profile, error)
	List(ctx context.Context, scope domain.Scope, page domain.Page) (*domain.List[*domain.Profile], error)
}

// Handler handles immigration profile endpoints.
type Handler struct {
	logger   *slog.Logger
	profiles Service
}

func NewHandler(logger *slog.Logger, profiles Service) *Handler {
	return &Handler{logger: logger, profiles: profiles}
}

// ProfileView is a profile with its derived completion and score.
type ProfileView struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	TenantID          uuid.UUID       `json:"tenant_id"`
	Personal          json.RawMessage `json:"personal"`
	Education         json.RawMessage `json:"education"`
	Employment        json.RawMessage `json:"employment"`
	Travel            json.RawMessage `json:"travel"`
	CRSInputs         json.RawMessage `json:"crs_inputs"`
	CRSBreakdown      map[string]int  `json:"crs_breakdown"`
	CRSScore          int             `json:"crs_score"`
	CompletedSections []string        `json:"completed_sections"`
	Completion        int             `json:"completion"`
	UpdatedAt         *time.Time      `json:"updated_at,omitempty"`
}

func newProfileView(p *domain.Profile) *ProfileView {
	v := &ProfileView{
		ID:                p.ID,
		UserID:            p.UserID,
		TenantID:          p.TenantID,
		Personal:          p.Personal,
		Education:         p.Education,
		Employment:        p.Employment,
		Travel:            p.Travel,
		CRSInputs:         p.CRSInputs,
		CRSBreakdown:      p.CRSBreakdown,
		CRSScore:          p.CRSScore,
		CompletedSections: p.CompletedSections(),
		Completion:        p.Completion(),
	}
	if v.CRSBreakdown == nil {
		v.CRSBreakdown = map[string]int{}
	}
	if v.CompletedSections == nil {
		v.CompletedSections = []string{}
	}
	if !p.UpdatedAt.IsZero() {
		v.UpdatedAt = &p.UpdatedAt
	}
	return v
}

// UpdateRequest carries the sections to replace. Omitted sections are kept.
type UpdateRequest struct {
	Personal     json.RawMessage `json:"personal,omitempty"`
	Education    json.RawMessage `json:"education,omitempty"`
	Employment   json.RawMessage `json:"employment,omitempty"`
	Travel       json.RawMessage `json:"travel,omitempty"`
	CRSInputs    json.RawMessage `json:"crs_inputs,omitempty"`
	CRSBreakdown map[string]int  `json:"crs_breakdown,omitempty"`
}

// GetMine handles GET /v1/me/profile
func (h *Handler) GetMine(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	p, err := h.profiles.GetMine(r.Context(), scope)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newProfileView(p))
}

// UpdateMine handles PUT /v1/me/profile
func (h *Handler) UpdateMine(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	p, err := h.profiles.UpdateMine(r.Context(), scope, domain.ProfileUpdate{
		Personal:     req.Personal,
		Education:    req.Education,
		Employment:   req.Employment,
		Travel:       req.Travel,
		CRSInputs:    req.CRSInputs,
		CRSBreakdown: req.CRSBreakdown,
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newProfileView(p))
}

// GetForUser handles GET /v1/profiles/{userID}
func (h *Handler) GetForUser(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	userID, err := httputil.URLParamUUID(r, "userID")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	p, err := h.profiles.GetForUser(r.Context(), scope, userID)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, newProfileView(p))
}

// List handles GET /v1/profiles
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	list, err := h.profiles.List(r.Context(), scope, httputil.ParsePage(r))
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.MapList(list, newProfileView))
}
