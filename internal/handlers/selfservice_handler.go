package handlers

import (
	"net/http"

	"usergate/internal/service"
)

// SelfserviceHandler lets users reset their password and manage their own
// profile
type SelfserviceHandler struct {
	selfservice *service.SelfserviceService
	middleware  *Middleware
}

// NewSelfserviceHandler creates a new selfservice handler
func NewSelfserviceHandler(selfservice *service.SelfserviceService, middleware *Middleware) *SelfserviceHandler {
	return &SelfserviceHandler{
		selfservice: selfservice,
		middleware:  middleware,
	}
}

type forgotPasswordRequest struct {
	Loginname string `json:"loginname"`
	Mail      string `json:"mail"`
}

type passwordPair struct {
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
}

type profileRequest struct {
	Displayname string `json:"displayname"`
	Mail        string `json:"mail"`
}

// ForgotPassword mails a reset link when login name and mail match
func (h *SelfserviceHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}

	res, err := h.selfservice.ForgotPassword(r.Context(), h.middleware.remoteAddr(r), req.Loginname, req.Mail)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondResult(w, res)
}

// ResetPassword sets a new password with a mailed token
func (h *SelfserviceHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordPair
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}

	res, err := h.selfservice.ResetPassword(r.Context(), r.PathValue("token"), req.Password1, req.Password2)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondResult(w, res)
}

// UpdateProfile changes the display name and starts a mail change
func (h *SelfserviceHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}

	results, err := h.selfservice.UpdateProfile(r.Context(), GetUserFromContext(r.Context()), req.Displayname, req.Mail)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	for _, res := range results {
		if !res.Success {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, map[string][]service.Result{"results": results})
}

// VerifyMail applies a mail change with a mailed token
func (h *SelfserviceHandler) VerifyMail(w http.ResponseWriter, r *http.Request) {
	res, err := h.selfservice.VerifyMail(r.Context(), GetUserFromContext(r.Context()), r.PathValue("token"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondResult(w, res)
}

// ChangePassword sets a new password for the current user
func (h *SelfserviceHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordPair
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}

	res, err := h.selfservice.ChangePassword(r.Context(), GetUserFromContext(r.Context()), req.Password1, req.Password2)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondResult(w, res)
}

// LeaveRole removes a role from the current user
func (h *SelfserviceHandler) LeaveRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}

	res, err := h.selfservice.LeaveRole(r.Context(), GetUserFromContext(r.Context()), roleID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondResult(w, res)
}
