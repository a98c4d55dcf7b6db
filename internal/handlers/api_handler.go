package handlers

import (
	"net/http"

	"usergate/internal/service"
)

// API client scopes
const (
	ScopeGetUsers      = "getusers"
	ScopeGetGroups     = "getgroups"
	ScopeCheckPassword = "checkpassword"
	ScopeGetMails      = "getmails"
)

// APIHandler serves the machine API used by services that consume the
// directory
type APIHandler struct {
	directory   *service.DirectoryService
	authService *service.AuthService
	mails       *service.MailService
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(directory *service.DirectoryService, authService *service.AuthService, mails *service.MailService) *APIHandler {
	return &APIHandler{
		directory:   directory,
		authService: authService,
		mails:       mails,
	}
}

// singleFilter returns the only form key of the request. More than one key
// is an error; none selects everything.
func singleFilter(r *http.Request) (key, value string, ok bool) {
	if err := r.ParseForm(); err != nil {
		return "", "", false
	}
	if len(r.Form) > 1 {
		return "", "", false
	}
	for k, v := range r.Form {
		if len(v) != 1 {
			return "", "", false
		}
		return k, v[0], true
	}
	return "", "", true
}

// GetUsers lists users, optionally filtered by id, loginname, email or group
func (h *APIHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	key, value, ok := singleFilter(r)
	if !ok {
		badRequest(w, r)
		return
	}

	users, err := h.directory.FindUsers(r.Context(), key, value)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := make([]apiUser, 0, len(users))
	for _, u := range users {
		resp = append(resp, newAPIUser(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetGroups lists groups, optionally filtered by id, name or member
func (h *APIHandler) GetGroups(w http.ResponseWriter, r *http.Request) {
	key, value, ok := singleFilter(r)
	if !ok {
		badRequest(w, r)
		return
	}

	groups, err := h.directory.FindGroups(r.Context(), key, value)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := make([]apiGroup, 0, len(groups))
	for _, g := range groups {
		resp = append(resp, newAPIGroup(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMails lists mail aliases, optionally filtered by name, receive_address
// or destination_address
func (h *APIHandler) GetMails(w http.ResponseWriter, r *http.Request) {
	key, value, ok := singleFilter(r)
	if !ok {
		badRequest(w, r)
		return
	}

	mails, err := h.mails.Find(r.Context(), key, value)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := make([]apiMail, 0, len(mails))
	for _, m := range mails {
		resp = append(resp, newAPIMail(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckPassword returns the user dictionary when loginname and password
// match and null otherwise
func (h *APIHandler) CheckPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || len(r.Form) != 2 {
		badRequest(w, r)
		return
	}
	loginname, password := r.Form.Get("loginname"), r.Form.Get("password")
	if !r.Form.Has("loginname") || !r.Form.Has("password") {
		badRequest(w, r)
		return
	}

	user, err := h.authService.CheckPassword(r.Context(), loginname, password)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, newAPIUser(user))
}
