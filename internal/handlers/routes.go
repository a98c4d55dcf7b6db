package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"usergate/internal/metrics"
)

// Handlers bundles everything the router serves
type Handlers struct {
	Middleware  *Middleware
	Auth        *AuthHandler
	API         *APIHandler
	Signup      *SignupHandler
	Invite      *InviteHandler
	Selfservice *SelfserviceHandler
	Admin       *AdminHandler
	MFA         *MFAHandler
	Mail        *MailHandler
	Startup     *StartupStatus
}

// NewRouter registers all routes and wraps them with logging and metrics
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	mw := h.Middleware
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", h.Startup)
	mux.Handle("GET /metrics", metrics.Handler())

	// Session
	mux.HandleFunc("POST /login", mw.RateLimit(h.Auth.Login))
	mux.HandleFunc("POST /login/mfa", mw.RateLimit(h.Auth.VerifyMFA))
	mux.HandleFunc("GET /self", mw.RequireAuth(h.Auth.Self))

	// Machine API
	for _, method := range []string{"GET", "POST"} {
		mux.HandleFunc(method+" /api/v1/getusers", mw.RequireAPIClient(ScopeGetUsers, h.API.GetUsers))
		mux.HandleFunc(method+" /api/v1/getgroups", mw.RequireAPIClient(ScopeGetGroups, h.API.GetGroups))
		mux.HandleFunc(method+" /api/v1/getmails", mw.RequireAPIClient(ScopeGetMails, h.API.GetMails))
	}
	mux.HandleFunc("POST /api/v1/checkpassword", mw.RequireAPIClient(ScopeCheckPassword, h.API.CheckPassword))

	// Signup
	mux.HandleFunc("POST /signup/check", mw.RateLimit(h.Signup.Check))
	mux.HandleFunc("POST /signup", mw.RateLimit(h.Signup.Submit))
	mux.HandleFunc("POST /signup/confirm/{id}/{token}", mw.RateLimit(h.Signup.Confirm))

	// Invites
	mux.HandleFunc("GET /invite", mw.RequireAuth(h.Invite.List))
	mux.HandleFunc("POST /invite", mw.RequireAuth(h.Invite.Create))
	mux.HandleFunc("POST /invite/{id}/disable", mw.RequireAuth(h.Invite.Disable))
	mux.HandleFunc("POST /invite/{id}/reset", mw.RequireAuth(h.Invite.Reset))
	mux.HandleFunc("GET /invite/{token}/use", mw.RateLimit(h.Invite.Use))
	mux.HandleFunc("POST /invite/{token}/grant", mw.RequireAuth(h.Invite.Grant))
	mux.HandleFunc("POST /invite/{token}/signupcheck", mw.RateLimit(h.Signup.InviteCheck))
	mux.HandleFunc("POST /invite/{token}/signup", mw.RateLimit(h.Signup.InviteSubmit))

	// Selfservice
	mux.HandleFunc("POST /self/passwordreset", mw.RateLimit(h.Selfservice.ForgotPassword))
	mux.HandleFunc("POST /self/token/password/{token}", mw.RateLimit(h.Selfservice.ResetPassword))
	mux.HandleFunc("POST /self/updateprofile", mw.RequireAuth(h.Selfservice.UpdateProfile))
	mux.HandleFunc("GET /self/token/mail/{token}", mw.RequireAuth(h.Selfservice.VerifyMail))
	mux.HandleFunc("POST /self/changepassword", mw.RequireAuth(h.Selfservice.ChangePassword))
	mux.HandleFunc("POST /self/leaverole/{id}", mw.RequireAuth(h.Selfservice.LeaveRole))

	// Second factors
	mux.HandleFunc("GET /self/mfa", mw.RequireAuth(h.MFA.Methods))
	mux.HandleFunc("DELETE /self/mfa", mw.RequireAuth(h.MFA.Disable))
	mux.HandleFunc("POST /self/mfa/recovery", mw.RequireAuth(h.MFA.GenerateRecoveryCodes))
	mux.HandleFunc("POST /self/mfa/totp/setup", mw.RequireAuth(h.MFA.SetupTOTP))
	mux.HandleFunc("POST /self/mfa/totp", mw.RequireAuth(h.MFA.AddTOTP))
	mux.HandleFunc("DELETE /self/mfa/totp/{id}", mw.RequireAuth(h.MFA.DeleteTOTP))

	// Admin
	mux.HandleFunc("GET /user", mw.RequireAdmin(h.Admin.ListUsers))
	mux.HandleFunc("POST /user", mw.RequireAdmin(h.Admin.CreateUser))
	mux.HandleFunc("POST /user/import", mw.RequireAdmin(h.Admin.ImportUsers))
	mux.HandleFunc("GET /user/{id}", mw.RequireAdmin(h.Admin.GetUser))
	mux.HandleFunc("POST /user/{id}", mw.RequireAdmin(h.Admin.UpdateUser))
	mux.HandleFunc("DELETE /user/{id}", mw.RequireAdmin(h.Admin.DeleteUser))
	mux.HandleFunc("PUT /user/{id}/groups", mw.RequireAdmin(h.Admin.SetUserGroups))
	mux.HandleFunc("DELETE /user/{id}/mfa", mw.RequireAdmin(h.MFA.AdminDisable))
	mux.HandleFunc("GET /group", mw.RequireAdmin(h.Admin.ListGroups))
	mux.HandleFunc("POST /group", mw.RequireAdmin(h.Admin.CreateGroup))
	mux.HandleFunc("DELETE /group/{id}", mw.RequireAdmin(h.Admin.DeleteGroup))
	mux.HandleFunc("GET /role", mw.RequireAdmin(h.Admin.ListRoles))
	mux.HandleFunc("POST /role", mw.RequireAdmin(h.Admin.CreateRole))
	mux.HandleFunc("DELETE /role/{id}", mw.RequireAdmin(h.Admin.DeleteRole))
	mux.HandleFunc("PUT /role/{id}/groups", mw.RequireAdmin(h.Admin.SetRoleGroups))
	mux.HandleFunc("GET /mail", mw.RequireAdmin(h.Mail.List))
	mux.HandleFunc("POST /mail", mw.RequireAdmin(h.Mail.Create))
	mux.HandleFunc("GET /mail/{id}", mw.RequireAdmin(h.Mail.Get))
	mux.HandleFunc("POST /mail/{id}", mw.RequireAdmin(h.Mail.Update))
	mux.HandleFunc("DELETE /mail/{id}", mw.RequireAdmin(h.Mail.Delete))

	var handler http.Handler = mux
	handler = h.Startup.RequireReadyExcept(handler, "/healthz", "/metrics")
	handler = metrics.Instrument(handler)
	return Logging(log)(handler)
}
