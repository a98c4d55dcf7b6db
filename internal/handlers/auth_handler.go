package handlers

import (
	"net/http"
	"time"

	"usergate/internal/service"
)

// AuthHandler handles session login and the current user
type AuthHandler struct {
	authService *service.AuthService
	middleware  *Middleware
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService, middleware *Middleware) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		middleware:  middleware,
	}
}

type loginRequest struct {
	Loginname string `json:"loginname"`
	Password  string `json:"password"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	MFARequired bool      `json:"mfa_required,omitempty"`
}

type mfaLoginRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

// Login exchanges credentials for a bearer token. For users with an
// authenticator the token has to be completed with VerifyMFA first.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Loginname == "" {
		badRequest(w, r)
		return
	}

	session, err := h.authService.Login(r.Context(), h.middleware.remoteAddr(r), req.Loginname, req.Password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: session.Token, ExpiresAt: session.ExpiresAt, MFARequired: session.MFARequired})
}

// VerifyMFA exchanges a pending login token and a second factor code for a
// session token
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaLoginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Token == "" || req.Code == "" {
		badRequest(w, r)
		return
	}

	session, err := h.authService.VerifyMFA(r.Context(), req.Token, req.Code)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: session.Token, ExpiresAt: session.ExpiresAt})
}

// Self returns the authenticated user
func (h *AuthHandler) Self(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newUserView(GetUserFromContext(r.Context())))
}
