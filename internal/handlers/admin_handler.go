package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"usergate/internal/service"
)

// AdminHandler handles directory administration for the admin group
type AdminHandler struct {
	directory   *service.DirectoryService
	selfservice *service.SelfserviceService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(directory *service.DirectoryService, selfservice *service.SelfserviceService) *AdminHandler {
	return &AdminHandler{
		directory:   directory,
		selfservice: selfservice,
	}
}

type createUserResponse struct {
	User     UserView `json:"user"`
	MailSent bool     `json:"mail_sent"`
}

type groupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type groupIDsRequest struct {
	GroupIDs []int64 `json:"group_ids"`
}

type importResponse struct {
	Created []UserView           `json:"created"`
	Skipped []service.SkippedRow `json:"skipped"`
}

// ListUsers returns every user
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.directory.ListUsers(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	resp := make([]UserView, 0, len(users))
	for _, u := range users {
		resp = append(resp, newUserView(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetUser returns one user
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	user, err := h.directory.GetUser(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

// CreateUser creates a user. Without a password the user receives the
// welcome mail with a password link.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req service.UserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}

	user, err := h.directory.CreateUser(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := createUserResponse{User: newUserView(user)}
	if req.Password == "" && !user.IsServiceUser {
		err := h.selfservice.SendPasswordReset(r.Context(), user, true)
		switch {
		case errors.Is(err, service.ErrMailNotSent):
			zerolog.Ctx(r.Context()).Warn().Err(err).Int64("user_id", user.ID).Msg("Welcome mail not sent")
		case err != nil:
			respondServiceError(w, r, err)
			return
		default:
			resp.MailSent = true
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// UpdateUser changes a user and recomputes its groups
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	var upd service.UserUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		badRequest(w, r)
		return
	}

	user, err := h.directory.UpdateUser(r.Context(), id, upd)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

// SetUserGroups replaces the directly assigned groups of a user
func (h *AdminHandler) SetUserGroups(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	var req groupIDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}
	if err := h.directory.SetDirectGroups(r.Context(), id, req.GroupIDs); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteUser removes a user
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	deleteByID(w, r, h.directory.DeleteUser)
}

// DeleteGroup removes a group from every user and role holding it
func (h *AdminHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	deleteByID(w, r, h.directory.DeleteGroup)
}

// DeleteRole removes a role from its members and invites
func (h *AdminHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	deleteByID(w, r, h.directory.DeleteRole)
}

// deleteByID answers 204 once del removed the record named by the id path
// value
func deleteByID(w http.ResponseWriter, r *http.Request, del func(context.Context, int64) error) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	if err := del(r.Context(), id); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportUsers creates users from a CSV request body
func (h *AdminHandler) ImportUsers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	report, err := h.directory.ImportCSV(r.Context(), r.Body)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := importResponse{
		Created: make([]UserView, 0, len(report.Created)),
		Skipped: report.Skipped,
	}
	for _, u := range report.Created {
		resp.Created = append(resp.Created, newUserView(u))
	}
	if resp.Skipped == nil {
		resp.Skipped = []service.SkippedRow{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListGroups returns every group
func (h *AdminHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.directory.ListGroups(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	resp := make([]GroupView, 0, len(groups))
	for i := range groups {
		resp = append(resp, newGroupView(&groups[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateGroup creates a group with the next free gid
func (h *AdminHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}
	group, err := h.directory.CreateGroup(r.Context(), req.Name, req.Description)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newGroupView(group))
}

// ListRoles returns every role with its groups
func (h *AdminHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.directory.ListRoles(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	resp := make([]RoleView, 0, len(roles))
	for i := range roles {
		resp = append(resp, newRoleView(&roles[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateRole creates a role
func (h *AdminHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req service.RoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}
	role, err := h.directory.CreateRole(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRoleView(role))
}

// SetRoleGroups replaces the groups of a role and recomputes its members
func (h *AdminHandler) SetRoleGroups(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		respondWithError(w, r, http.StatusNotFound, ErrNotFound, "", nil)
		return
	}
	var req groupIDsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badRequest(w, r)
		return
	}
	if err := h.directory.SetRoleGroups(r.Context(), id, req.GroupIDs); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
