package mfa

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// Service is the part of auth.MFAService the handler uses.
type Service interface {
	Setup(ctx context.Context, user *domain.User) (*domain.MFASetupResponse, error)
	Enable(ctx context.Context, userID uuid.UUID, code string) error
	Disable(ctx context.Context, userID uuid.UUID, password string) error
	Status(ctx context.Context, userID uuid.UUID) (*domain.MFAStatus, error)
}

// LoginCompleter redeems a login challenge.
type LoginCompleter interface {
	CompleteMFALogin(ctx context.Context, challengeToken, code string, client auth.ClientInfo) (*auth.AuthResult, error)
}

// UserGetter loads the account being enrolled.
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// AuthRecorder counts login outcomes.
type AuthRecorder interface {
	RecordAuth(result string)
}

// Handler handles MFA-related HTTP requests
type Handler struct {
	logger     *slog.Logger
	mfaService Service
	logins     LoginCompleter
	users      UserGetter
	tokens     common.TokenWriter
	metrics    AuthRecorder
}

// NewHandler creates a new MFA handler. metrics may be nil.
func NewHandler(
	logger *slog.Logger,
	mfaService Service,
	logins LoginCompleter,
	users UserGetter,
	tokens common.TokenWriter,
	metrics AuthRecorder,
) *Handler {
	return &Handler{
		logger:     logger,
		mfaService: mfaService,
		logins:     logins,
		users:      users,
		tokens:     tokens,
		metrics:    metrics,
	}
}

// SetupResponse represents the response body for MFA setup
type SetupResponse struct {
	QRCode        string   `json:"qr_code"`
	Secret        string   `json:"secret"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// EnableRequest represents the request body for enabling MFA
type EnableRequest struct {
	Code string `json:"code"`
}

// DisableRequest represents the request body for disabling MFA
type DisableRequest struct {
	Password string `json:"password"`
}

// VerifyRequest represents the second step of an MFA login.
type VerifyRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

// self returns the caller's scope unless an impersonator is acting for them.
func (h *Handler) self(w http.ResponseWriter, r *http.Request) (domain.Scope, bool) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return scope, false
	}
	if scope.IsImpersonating() {
		httputil.WriteError(w, r, h.logger, domain.Forbidden("MFA settings cannot be changed while impersonating"))
		return scope, false
	}
	return scope, true
}

// Setup handles POST /v1/me/mfa/setup
//
// The secret and recovery codes are shown once. MFA stays disabled until
// the first code is confirmed through Enable.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.self(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetByID(r.Context(), scope.UserID)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	setup, err := h.mfaService.Setup(r.Context(), user)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, SetupResponse{
		QRCode:        setup.QRCodeDataURI,
		Secret:        setup.Secret,
		RecoveryCodes: setup.RecoveryCodes,
	})
}

// Enable handles POST /v1/me/mfa/enable
func (h *Handler) Enable(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.self(w, r)
	if !ok {
		return
	}

	var req EnableRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if req.Code == "" {
		httputil.Error(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.mfaService.Enable(r.Context(), scope.UserID, req.Code); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("MFA enabled", "user_id", scope.UserID)
	httputil.Message(w, http.StatusOK, "MFA enabled")
}

// Disable handles POST /v1/me/mfa/disable
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.self(w, r)
	if !ok {
		return
	}

	var req DisableRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "password is required")
		return
	}

	if err := h.mfaService.Disable(r.Context(), scope.UserID, req.Password); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("MFA disabled", "user_id", scope.UserID)
	httputil.Message(w, http.StatusOK, "MFA disabled")
}

// Status handles GET /v1/me/mfa/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	status, err := h.mfaService.Status(r.Context(), scope.UserID)
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, status)
}

// Verify handles POST /v1/auth/mfa/verify
//
// It exchanges the challenge token from Login plus a TOTP or recovery code
// for a session.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if req.ChallengeToken == "" || req.Code == "" {
		httputil.Error(w, http.StatusBadRequest, "challenge_token and code are required")
		return
	}

	res, err := h.logins.CompleteMFALogin(r.Context(), req.ChallengeToken, req.Code, common.Client(r))
	if err != nil {
		h.record("mfa_failure")
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	h.record("success")
	httputil.JSON(w, http.StatusOK, common.NewAuthResponse(w, r, h.tokens, res))
}

func (h *Handler) record(result string) {
	if h.metrics != nil {
		h.metrics.RecordAuth(result)
	}
}
