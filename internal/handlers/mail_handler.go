package handlers

import (
	"net/http"

	"usergate/internal/service"
)

// MailHandler lets admins maintain the mail forwarding aliases
type MailHandler struct {
	mails *service.MailService
}

// NewMailHandler creates a new mail handler
func NewMailHandler(mails *service.MailService) *MailHandler {
	return &MailHandler{mails: mails}
}

// List returns every alias
func (h *MailHandler) List(w http.ResponseWriter, r *http.Request) {
	mails, err := h.mails.List(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	resp := make([]MailView, 0, len(mails))
	for _, m := range mails {
		resp = append(resp, newMailView(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns one alias
func (h *MailHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	m, err := h.mails.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMailView(m))
}

// Create adds an alias
func (h *MailHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.MailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}
	m, err := h.mails.Create(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMailView(m))
}

// Update replaces the addresses of an alias
func (h *MailHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	var req service.MailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}
	m, err := h.mails.Update(r.Context(), id, req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMailView(m))
}

// Delete removes an alias
func (h *MailHandler) Delete(w http.ResponseWriter, r *http.Request) {
	deleteByID(w, r, h.mails.Delete)
}
