package handlers

import (
	"net/http"

	"usergate/internal/service"
)

// MFAHandler lets users manage their second factors and admins reset them
type MFAHandler struct {
	mfa *service.MFAService
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(mfa *service.MFAService) *MFAHandler {
	return &MFAHandler{mfa: mfa}
}

type addTOTPRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
	Code string `json:"code"`
}

type recoveryCodesResponse struct {
	Codes []string `json:"codes"`
}

// Methods lists the second factors of the session user
func (h *MFAHandler) Methods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.mfa.Methods(r.Context(), GetUserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMFAView(methods))
}

// GenerateRecoveryCodes replaces the recovery codes and returns them once
func (h *MFAHandler) GenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.mfa.GenerateRecoveryCodes(r.Context(), GetUserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodesResponse{Codes: codes})
}

// SetupTOTP returns a new authenticator secret to be confirmed with AddTOTP
func (h *MFAHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	setup, err := h.mfa.SetupTOTP(r.Context(), GetUserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

// AddTOTP stores an authenticator once a code for it is confirmed
func (h *MFAHandler) AddTOTP(w http.ResponseWriter, r *http.Request) {
	var req addTOTPRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Key == "" {
		badRequest(w, r)
		return
	}

	method, err := h.mfa.AddTOTP(r.Context(), GetUserFromContext(r.Context()), req.Name, req.Key, req.Code)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMFAMethodView(method))
}

// DeleteTOTP removes one authenticator of the session user
func (h *MFAHandler) DeleteTOTP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	if err := h.mfa.DeleteTOTP(r.Context(), GetUserFromContext(r.Context()), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Disable removes every second factor of the session user
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	if err := h.mfa.Disable(r.Context(), GetUserFromContext(r.Context()).ID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminDisable removes every second factor of the user named by the path
func (h *MFAHandler) AdminDisable(w http.ResponseWriter, r *http.Request) {
	deleteByID(w, r, h.mfa.Disable)
}
