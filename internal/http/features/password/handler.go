package password

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/internal/http/features/common"
	"github.com/tendant/immigration-portal/internal/http/middleware"
	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/auth"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// Service is the part of auth.AuthService the password endpoints use.
type Service interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.AuthResult, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.AuthResult, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next string) error
	RequestPasswordReset(ctx context.Context, email string, client auth.ClientInfo) error
	ResetPassword(ctx context.Context, token, password string) error
}

// AuthRecorder counts login outcomes.
type AuthRecorder interface {
	RecordAuth(result string)
}

// Handler handles password authentication endpoints.
type Handler struct {
	logger  *slog.Logger
	auth    Service
	tokens  common.TokenWriter
	metrics AuthRecorder
}

// NewHandler creates a new password handler. metrics may be nil.
func NewHandler(logger *slog.Logger, authService Service, tokens common.TokenWriter, metrics AuthRecorder) *Handler {
	return &Handler{
		logger:  logger,
		auth:    authService,
		tokens:  tokens,
		metrics: metrics,
	}
}

// RegisterRequest represents a registration request. TenantName creates a
// new firm; TenantDomain alone joins an existing one.
type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	TenantName   string `json:"tenant_name,omitempty"`
	TenantDomain string `json:"tenant_domain,omitempty"`
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest represents a password change request.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ResetRequestRequest represents a password reset request.
type ResetRequestRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest represents a password reset submission.
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// Register creates an account and signs it in.
// POST /v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	// Registering from a tenant's portal joins that tenant.
	if req.TenantName == "" && req.TenantDomain == "" {
		if tenant, ok := middleware.GetRequestTenant(r.Context()); ok {
			req.TenantDomain = tenant.Domain
		}
	}

	res, err := h.auth.Register(r.Context(), auth.RegisterInput{
		Email:        req.Email,
		Password:     req.Password,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		TenantName:   req.TenantName,
		TenantDomain: req.TenantDomain,
		Client:       common.Client(r),
	})
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("user registered", "user_id", res.User.ID, "tenant_id", res.User.TenantID)
	httputil.JSON(w, http.StatusCreated, common.NewAuthResponse(w, r, h.tokens, res))
}

// Login authenticates with email and password.
// POST /v1/auth/login
//
// Accounts with MFA enabled receive a challenge token to redeem at
// /v1/auth/mfa/verify instead of a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	in := auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Client:   common.Client(r),
	}
	if tenant, ok := middleware.GetRequestTenant(r.Context()); ok {
		in.RequestTenant = &tenant.ID
	}

	res, err := h.auth.Login(r.Context(), in)
	if err != nil {
		h.record("failure")
		if errors.Is(err, domain.ErrAccountLocked) {
			h.logger.Warn("login attempt on locked account", "ip", r.RemoteAddr)
		}
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	if res.MFARequired {
		h.record("mfa_required")
	} else {
		h.record("success")
	}
	httputil.JSON(w, http.StatusOK, common.NewAuthResponse(w, r, h.tokens, res))
}

// ChangePassword replaces the caller's password and signs out every session.
// POST /v1/auth/password/change
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}
	if scope.IsImpersonating() {
		httputil.WriteError(w, r, h.logger, domain.Forbidden("cannot change password while impersonating"))
		return
	}

	var req ChangePasswordRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		httputil.Error(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	if err := h.auth.ChangePassword(r.Context(), scope.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	h.tokens.Clear(w, r)
	httputil.Message(w, http.StatusOK, "password changed. please sign in again")
}

// RequestPasswordReset emails a reset link.
// POST /v1/auth/password/reset-request
//
// The response is the same whether or not the email exists.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req ResetRequestRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if req.Email == "" {
		httputil.Error(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.auth.RequestPasswordReset(r.Context(), req.Email, common.Client(r)); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	httputil.Message(w, http.StatusOK, "if an account exists with this email, a password reset link has been sent")
}

// ResetPassword sets a new password with a reset token.
// POST /v1/auth/password/reset
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		httputil.Error(w, http.StatusBadRequest, "token and new_password are required")
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	httputil.Message(w, http.StatusOK, "password has been reset")
}

func (h *Handler) record(result string) {
	if h.metrics != nil {
		h.metrics.RecordAuth(result)
	}
}
