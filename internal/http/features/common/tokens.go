package common

import (
	"net/http"
	"time"

	"github.com/tendant/immigration-portal/internal/httputil"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// TokenWriter hands session tokens to the client: HttpOnly cookies for
// browsers, the response body for clients that send X-Client-Type.
type TokenWriter struct {
	Cookies    httputil.CookieConfig
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenResponse represents a token response. Browser clients get only the
// expiry; the tokens travel in cookies.
type TokenResponse struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Write sets cookies for web clients and returns the body part of the
// response. It must run before the response header is written.
func (t TokenWriter) Write(w http.ResponseWriter, r *http.Request, tokens *domain.TokenPair) *TokenResponse {
	if tokens == nil {
		return nil
	}
	resp := &TokenResponse{
		TokenType: tokens.TokenType,
		ExpiresIn: tokens.ExpiresIn,
		ExpiresAt: tokens.ExpiresAt,
	}
	if httputil.IsMobileClient(r) {
		resp.AccessToken = tokens.AccessToken
		resp.RefreshToken = tokens.RefreshToken
		return resp
	}
	httputil.SetAuthCookies(w, tokens.AccessToken, tokens.RefreshToken, t.AccessTTL, t.RefreshTTL, t.Cookies)
	return resp
}

// Clear expires the auth cookies of web clients.
func (t TokenWriter) Clear(w http.ResponseWriter, r *http.Request) {
	if !httputil.IsMobileClient(r) {
		httputil.ClearAuthCookies(w, t.Cookies)
	}
}
