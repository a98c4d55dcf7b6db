package handlers

import (
	"context"
	"net/http"

	"usergate/internal/models"
	"usergate/internal/service"
)

// InviteHandler manages invite links and their redemption by logged in users
type InviteHandler struct {
	inviteService *service.InviteService
}

// NewInviteHandler creates a new invite handler
func NewInviteHandler(inviteService *service.InviteService) *InviteHandler {
	return &InviteHandler{inviteService: inviteService}
}

// List returns the invites visible to the current user
func (h *InviteHandler) List(w http.ResponseWriter, r *http.Request) {
	invites, err := h.inviteService.List(r.Context(), GetUserFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := make([]InviteView, 0, len(invites))
	for _, inv := range invites {
		resp = append(resp, newInviteView(inv, h.inviteService.Active(inv), false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create stores a new invite and returns it with its full token
func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.InviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}

	inv, err := h.inviteService.Create(r.Context(), GetUserFromContext(r.Context()), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newInviteView(inv, h.inviteService.Active(inv), true))
}

// Disable blocks an invite
func (h *InviteHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.changeState(w, r, h.inviteService.Disable)
}

// Reset unblocks an invite and clears its used flag
func (h *InviteHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.changeState(w, r, h.inviteService.Reset)
}

func (h *InviteHandler) changeState(w http.ResponseWriter, r *http.Request,
	change func(ctx context.Context, actor *models.User, id int64) error) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	if err := change(r.Context(), GetUserFromContext(r.Context()), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Use describes the invite behind a token so a client can offer signup or
// grant
func (h *InviteHandler) Use(w http.ResponseWriter, r *http.Request) {
	inv, active, err := h.inviteService.Lookup(r.Context(), r.PathValue("token"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newInviteView(inv, active, false))
}

// Grant adds the invite's roles to the current user
func (h *InviteHandler) Grant(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r.Context())
	res, err := h.inviteService.Grant(r.Context(), r.PathValue("token"), user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondResult(w, res)
}
