package handlers

import (
	"errors"
	"net/http"

	"usergate/internal/service"
)

// SignupHandler handles direct and invite based self signup
type SignupHandler struct {
	signupService *service.SignupService
	middleware    *Middleware
}

// NewSignupHandler creates a new signup handler
func NewSignupHandler(signupService *service.SignupService, middleware *Middleware) *SignupHandler {
	return &SignupHandler{
		signupService: signupService,
		middleware:    middleware,
	}
}

type checkRequest struct {
	Loginname string `json:"loginname"`
}

type confirmRequest struct {
	Password string `json:"password"`
}

type confirmResponse struct {
	service.Result
	Loginname string `json:"loginname"`
}

// Check reports whether a login name is available for a direct signup
func (h *SignupHandler) Check(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, "")
}

// InviteCheck reports whether a login name is available for a signup with
// the invite in the path
func (h *SignupHandler) InviteCheck(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, r.PathValue("token"))
}

func (h *SignupHandler) check(w http.ResponseWriter, r *http.Request, inviteToken string) {
	var req checkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}

	status, err := h.signupService.CheckLoginname(r.Context(), h.middleware.remoteAddr(r), req.Loginname, inviteToken)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// Submit starts a direct signup
func (h *SignupHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "")
}

// InviteSubmit starts a signup with the invite in the path
func (h *SignupHandler) InviteSubmit(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, r.PathValue("token"))
}

func (h *SignupHandler) submit(w http.ResponseWriter, r *http.Request, inviteToken string) {
	var req service.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}
	req.InviteToken = inviteToken

	signup, res, err := h.signupService.Submit(r.Context(), h.middleware.remoteAddr(r), req)
	if err != nil {
		// The signup is stored even when its mail could not be sent
		if signup != nil && errors.Is(err, service.ErrMailNotSent) {
			respondWithError(w, r, http.StatusBadGateway, ErrMailNotSent, "Signup mail not sent", err)
			return
		}
		respondServiceError(w, r, err)
		return
	}
	if !res.Success {
		respondResult(w, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Confirm completes a signup from the mailed link
func (h *SignupHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}

	user, res, err := h.signupService.Confirm(r.Context(), h.middleware.remoteAddr(r), id, r.PathValue("token"), req.Password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !res.Success {
		respondResult(w, res)
		return
	}
	writeJSON(w, http.StatusCreated, confirmResponse{Result: res, Loginname: user.Loginname})
}
