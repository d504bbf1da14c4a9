package session

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

// Sessions is the part of auth.SessionService the session endpoints use.
type Sessions interface {
	RefreshSession(ctx context.Context, refreshToken string, opts auth.IssueOpts) (*domain.TokenPair, error)
	RevokeSession(ctx context.Context, refreshToken string) error
	RevokeAllSessions(ctx context.Context, userID uuid.UUID) error
}

// TenantSwitcher issues a session bound to another tenant.
type TenantSwitcher interface {
	SwitchTenant(ctx context.Context, scope domain.Scope, tenantID uuid.UUID, mfaVerified bool, client auth.ClientInfo) (*auth.AuthResult, error)
}

// Handler handles session endpoints.
type Handler struct {
	logger         *slog.Logger
	sessionService Sessions
	switcher       TenantSwitcher
	tokens         common.TokenWriter
}

// NewHandler creates a new session handler.
func NewHandler(logger *slog.Logger, sessionService Sessions, switcher TenantSwitcher, tokens common.TokenWriter) *Handler {
	return &Handler{
		logger:         logger,
		sessionService: sessionService,
		switcher:       switcher,
		tokens:         tokens,
	}
}

// RefreshRequest represents a token refresh request (for mobile clients).
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest represents a logout request (for mobile clients).
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SwitchTenantRequest selects the tenant the new session is bound to.
type SwitchTenantRequest struct {
	TenantID uuid.UUID `json:"tenant_id"`
}

// Refresh refreshes an access token.
// POST /v1/auth/refresh
//
// For web clients: Reads refresh token from cookie, sets new cookies.
// For mobile clients: Reads/returns tokens in request/response body.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string

	if httputil.IsMobileClient(r) {
		var req RefreshRequest
		if err := httputil.Decode(r, &req); err != nil {
			httputil.WriteError(w, r, h.logger, err)
			return
		}
		refreshToken = req.RefreshToken
	} else {
		var ok bool
		refreshToken, ok = httputil.GetRefreshTokenFromCookie(r)
		if !ok {
			httputil.Error(w, http.StatusUnauthorized, "refresh token not found")
			return
		}
	}

	if refreshToken == "" {
		httputil.Error(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	tokens, err := h.sessionService.RefreshSession(r.Context(), refreshToken, auth.IssueOpts{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Request:   r,
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) ||
			errors.Is(err, domain.ErrSessionExpired) ||
			errors.Is(err, domain.ErrSessionRevoked) {
			h.tokens.Clear(w, r)
			httputil.Error(w, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	httputil.JSON(w, http.StatusOK, h.tokens.Write(w, r, tokens))
}

// Logout revokes a session.
// POST /v1/auth/logout
//
// For web clients: Reads refresh token from cookie, clears cookies.
// For mobile clients: Reads token from request body.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var refreshToken string

	if httputil.IsMobileClient(r) {
		var req LogoutRequest
		if err := httputil.Decode(r, &req); err != nil {
			httputil.WriteError(w, r, h.logger, err)
			return
		}
		refreshToken = req.RefreshToken
	} else {
		refreshToken, _ = httputil.GetRefreshTokenFromCookie(r)
	}

	if refreshToken != "" {
		// Errors are ignored so the endpoint does not reveal which tokens exist.
		_ = h.sessionService.RevokeSession(r.Context(), refreshToken)
	}

	h.tokens.Clear(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes all sessions for the current user.
// POST /v1/auth/logout/all
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	if err := h.sessionService.RevokeAllSessions(r.Context(), scope.UserID); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("all sessions revoked", "user_id", scope.UserID)
	h.tokens.Clear(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// SwitchTenant issues a session bound to the requested tenant. Only super
// admins may enter a tenant other than their own.
// POST /v1/auth/switch-tenant
func (h *Handler) SwitchTenant(w http.ResponseWriter, r *http.Request) {
	scope, ok := common.Scope(w, r)
	if !ok {
		return
	}

	var req SwitchTenantRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}
	if req.TenantID == uuid.Nil {
		httputil.Error(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	res, err := h.switcher.SwitchTenant(r.Context(), scope, req.TenantID, middleware.MFAVerified(r.Context()), common.Client(r))
	if err != nil {
		httputil.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.Info("tenant switched", "user_id", scope.UserID, "tenant_id", req.TenantID)
	httputil.JSON(w, http.StatusOK, common.NewAuthResponse(w, r, h.tokens, res))
}
