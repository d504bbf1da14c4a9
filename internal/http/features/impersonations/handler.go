package impersonations

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/http/middleware"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
	"github.com/tendant/immigration-portal/pkg/service"
)

// Service is the part of service.ImpersonationService the handler uses.
type Service interface {
	Start(ctx context.Context, scope domain.Scope, in service.StartImpersonationInput) (*service.ImpersonationResult, error)
	End(ctx context.Context, scope domain.Scope, id uuid.UUID) error
	ListActive(ctx context.Context, scope domain.Scope, page domain.Page) (*domain.List[*domain.Impersonation], error)
	History(ctx context.Context, scope domain.Scope, page domain.Page) (*domain.List[*domain.Impersonation], error)
}

// Recorder counts started impersonations by risk level.
type Recorder interface {
	RecordImpersonation(riskLevel string)
}

type Handler struct {
	logger         *slog.Logger
	impersonations Service
	tokens         common.TokenWriter
	metrics        Recorder
}

// NewHandler creates an impersonation handler. metrics may be nil.
func NewHandler(logger *slog.Logger, impersonations Service, tokens common.TokenWriter, metrics Recorder) *Handler {
	return &Handler{logger: logger, impersonations: impersonations, tokens: tokens, metrics: metrics}
}

type ImpersonationView struct {
	ID             uuid.UUID  `json:"id"`
	ImpersonatorID uuid.UUID  `json:"impersonator_id"`
	TargetUserID   uuid.UUID  `json:"target_user_id"`
	TenantID       *uuid.UUID `json:"tenant_id,omitempty"`
	Reason         string     `json:"reason"`
	RiskScore      int        `json:"risk_score"`
	RiskLevel      string     `json:"risk_level"`
	Active         bool       `json:"active"`
	StartedAt      time.Time  `json:"started_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

func newImpersonationView(i *domain.Impersonation) ImpersonationView {
	return ImpersonationView{
		ID:             i.ID,
		ImpersonatorID: i.ImpersonatorID,
		TargetUserID:   i.TargetUserID,
		TenantID:       i.TenantID,
		Reason:         i.Reason,
		RiskScore:      i.RiskScore,
		RiskLevel:      i.RiskLevel(),
		Active:         i.EndedAt == nil && time.Now().Before(i.ExpiresAt),
		StartedAt:      i.StartedAt,
		ExpiresAt:      i.ExpiresAt,
		EndedAt:        i.EndedAt,
	}
}

type StartRequest struct {
	TargetUserID    uuid.UUID `json:"target_user_id"`
	Reason          string    `json:"reason"`
	DurationMinutes int       `json:"duration_minutes"`
}

type StartResponse struct {
	Impersonation ImpersonationView     `json:"impersonation"`
	Tokens        *common.TokenResponse `json:"tokens"`
}

// Start handles POST /v1/impersonations
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var req StartRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if req.TargetUserID == uuid.Nil {
		httputil.Error(w, http.StatusBadRequest, "target_user_id is required")
		return
	}

	res, err := h.impersonations.Start(r.Context(), scope, service.StartImpersonationInput{
		TargetUserID: req.TargetUserID,
		Reason:       req.Reason,
		Duration:     time.Duration(req.DurationMinutes) * time.Minute,
		MFAVerified:  middleware.MFAVerified(r.Context()),
		Client:       common.Client(r),
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordImpersonation(res.RiskLevel)
	}

	httputil.JSON(w, http.StatusCreated, StartResponse{
		Impersonation: newImpersonationView(res.Impersonation),
		Tokens:        h.tokens.Write(w, r, res.Tokens),
	})
}

// List handles GET /v1/impersonations. history=true includes ended ones.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	history, _ := strconv.ParseBool(r.URL.Query().Get("history"))
	list := h.impersonations.ListActive
	if history {
		list = h.impersonations.History
	}

	items, err := list(r.Context(), scope, httputil.ParsePage(r))
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	httputil.JSON(w, http.StatusOK, common.MapList(items, newImpersonationView))
}

// End handles POST /v1/impersonations/{id}/end
func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	id, err := httputil.URLParamUUID(r, "id")
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	if err := h.impersonations.End(r.Context(), scope, id); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	// The impersonation session just revoked itself.
	if scope.ImpersonationID != nil && *scope.ImpersonationID == id {
		h.tokens.Clear(w, r)
	}
	w.WriteHeader(http.StatusNoContent)
}
