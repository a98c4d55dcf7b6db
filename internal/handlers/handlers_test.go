package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"usergate/internal/config"
	"usergate/internal/models"
	"usergate/internal/ratelimit"
	"usergate/internal/security"
	"usergate/internal/service"
	"usergate/internal/testutil"
)

const (
	testPassword = "correct horse"
	testBaseURL  = "https://id.example.com"
)

type sentMail struct {
	To       string
	Template string
	Data     service.MailData
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, to, _, template string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Template: template, Data: data.(service.MailData)})
	return nil
}

// lastPath returns the path of the link in the most recent mail of template
func (m *recordingMailer) lastPath(t *testing.T, template string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Template == template {
			return strings.TrimPrefix(m.sent[i].Data.Link, testBaseURL)
		}
	}
	t.Fatalf("no %s mail sent", template)
	return ""
}

type testServer struct {
	t       *testing.T
	ctx     context.Context
	cfg     *config.Config
	dir     *service.DirectoryService
	mailer  *recordingMailer
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		AdminGroup:         "uffd_admin",
		SignupGroup:        "uffd_signup",
		InviteMaxValidDays: 21,
		SelfSignup:         true,
		RoleSelfservice:    true,
		UIDMin:             10000,
		GIDMin:             20000,
		AppBaseURL:         testBaseURL,
		OrganisationName:   "Example",
		APIClients: []config.APIClient{
			{Name: "service", Secret: "s3cret", Scopes: []string{ScopeGetUsers, ScopeGetGroups, ScopeCheckPassword, ScopeGetMails}},
			{Name: "limited", Secret: "limited", Scopes: []string{ScopeGetUsers}},
		},
	}

	db := testutil.NewDB(t)
	store := ratelimit.NewMemoryStore(1024, ratelimit.MaxInterval(cfg))
	limits := ratelimit.NewSet(cfg, store)
	issuer, err := security.NewTokenIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)
	mailer := &recordingMailer{}

	dir := service.NewDirectoryService(db, cfg)
	auth := service.NewAuthService(db, cfg, limits, issuer)
	self := service.NewSelfserviceService(db, cfg, limits, mailer)
	mails := service.NewMailService(db, cfg)
	mw := NewMiddleware(auth, cfg, security.NewClientLimiter(1000, 1000))

	startup := NewStartupStatus(StepServices)
	startup.CompleteStep(StepServices)
	startup.MarkReady()

	handler := NewRouter(Handlers{
		Middleware:  mw,
		Auth:        NewAuthHandler(auth, mw),
		API:         NewAPIHandler(dir, auth, mails),
		Signup:      NewSignupHandler(service.NewSignupService(db, cfg, dir, limits, mailer), mw),
		Invite:      NewInviteHandler(service.NewInviteService(db, cfg)),
		Selfservice: NewSelfserviceHandler(self, mw),
		Admin:       NewAdminHandler(dir, self),
		MFA:         NewMFAHandler(service.NewMFAService(db, cfg)),
		Mail:        NewMailHandler(mails),
		Startup:     startup,
	}, zerolog.Nop())

	return &testServer{t: t, ctx: context.Background(), cfg: cfg, dir: dir, mailer: mailer, handler: handler}
}

func (s *testServer) user(loginname string, groups ...string) *models.User {
	s.t.Helper()
	u, err := s.dir.CreateUser(s.ctx, service.UserRequest{Loginname: loginname, Mail: loginname + "@example.com", Password: testPassword})
	require.NoError(s.t, err)

	var ids []int64
	for _, name := range groups {
		g, err := s.dir.CreateGroup(s.ctx, name, "")
		require.NoError(s.t, err)
		ids = append(ids, g.ID)
	}
	if len(ids) > 0 {
		require.NoError(s.t, s.dir.SetDirectGroups(s.ctx, u.ID, ids))
	}
	u, err = s.dir.GetUser(s.ctx, u.ID)
	require.NoError(s.t, err)
	return u
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withBasic(name, secret string) requestOption {
	return func(r *http.Request) { r.SetBasicAuth(name, secret) }
}

func (s *testServer) do(method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:4711"
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(loginname string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/login", loginRequest{Loginname: loginname, Password: testPassword})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestLoginAndSelf(t *testing.T) {
	s := newTestServer(t)
	s.user("alice")

	token := s.login("alice")

	rec := s.do(http.MethodGet, "/self", nil, withBearer(token))
	require.Equal(t, http.StatusOK, rec.Code)
	var self UserView
	decodeInto(t, rec, &self)
	require.Equal(t, "alice", self.Loginname)
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = s.do(http.MethodGet, "/self", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/self", nil, withBearer("garbage"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.user("alice")

	rec := s.do(http.MethodPost, "/login", loginRequest{Loginname: "alice", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/login", `{"loginname":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutesRequireAdminGroup(t *testing.T) {
	s := newTestServer(t)
	s.user("admin", "uffd_admin")
	s.user("bob")

	rec := s.do(http.MethodGet, "/user", nil, withBearer(s.login("bob")))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/user", nil, withBearer(s.login("admin")))
	require.Equal(t, http.StatusOK, rec.Code)
	var users []UserView
	decodeInto(t, rec, &users)
	require.Len(t, users, 2)
}

func TestAdminCreateUserSendsWelcomeMail(t *testing.T) {
	s := newTestServer(t)
	s.user("admin", "uffd_admin")
	token := s.login("admin")

	rec := s.do(http.MethodPost, "/user", service.UserRequest{Loginname: "carol", Mail: "carol@example.com"}, withBearer(token))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp createUserResponse
	decodeInto(t, rec, &resp)
	require.True(t, resp.MailSent)
	require.Equal(t, "carol", resp.User.Loginname)
	require.True(t, strings.HasPrefix(s.mailer.lastPath(t, service.MailNewUser), "/self/token/password/"))

	rec = s.do(http.MethodPost, "/user", service.UserRequest{Loginname: "carol", Mail: "carol@example.com"}, withBearer(token))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/user", service.UserRequest{Loginname: "Not Valid", Mail: "x@example.com"}, withBearer(token))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "loginname", decodeBody(t, rec)["field"])
}

func TestAdminDeleteGroupAndRole(t *testing.T) {
	s := newTestServer(t)
	s.user("admin", "uffd_admin")
	g, err := s.dir.CreateGroup(s.ctx, "wiki", "")
	require.NoError(t, err)
	role, err := s.dir.CreateRole(s.ctx, service.RoleRequest{Name: "wiki", GroupIDs: []int64{g.ID}})
	require.NoError(t, err)
	bob := s.user("bob")
	require.NoError(t, s.dir.AddRole(s.ctx, bob.ID, role.ID))

	admin := withBearer(s.login("admin"))
	rec := s.do(http.MethodDelete, "/group/"+itoa(g.ID), nil, admin)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	got, err := s.dir.GetUser(s.ctx, bob.ID)
	require.NoError(t, err)
	require.Empty(t, got.GroupNames())

	rec = s.do(http.MethodDelete, "/group/"+itoa(g.ID), nil, admin)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/role/"+itoa(role.ID), nil, admin)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	got, err = s.dir.GetUser(s.ctx, bob.ID)
	require.NoError(t, err)
	require.Empty(t, got.Roles)

	rec = s.do(http.MethodDelete, "/role/"+itoa(role.ID), nil, withBearer(s.login("bob")))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminImportCSV(t *testing.T) {
	s := newTestServer(t)
	s.user("admin", "uffd_admin")

	csv := "dave,dave@example.com,\nbad name,x@example.com,\n"
	rec := s.do(http.MethodPost, "/user/import", csv, withBearer(s.login("admin")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp importResponse
	decodeInto(t, rec, &resp)
	require.Len(t, resp.Created, 1)
	require.Len(t, resp.Skipped, 1)
	require.Equal(t, 2, resp.Skipped[0].Line)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t)
	s.user("alice")

	rec := s.do(http.MethodPost, "/self/passwordreset", forgotPasswordRequest{Loginname: "alice", Mail: "alice@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	path := s.mailer.lastPath(t, service.MailPasswordReset)

	rec = s.do(http.MethodPost, path, passwordPair{Password1: "new secret pw", Password2: "other"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, path, passwordPair{Password1: "new secret pw", Password2: "new secret pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/login", loginRequest{Loginname: "alice", Password: "new secret pw"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSignupFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/signup/check", checkRequest{Loginname: "newbie"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, service.StatusOK, decodeBody(t, rec)["status"])

	rec = s.do(http.MethodPost, "/signup", service.SignupRequest{
		Loginname: "newbie", Displayname: "Newbie", Mail: "newbie@example.org",
		Password1: testPassword, Password2: testPassword,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	path := s.mailer.lastPath(t, service.MailSignup)
	rec = s.do(http.MethodPost, path, confirmRequest{Password: testPassword})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "newbie", decodeBody(t, rec)["loginname"])

	rec = s.do(http.MethodPost, path, confirmRequest{Password: testPassword})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/signup/check", checkRequest{Loginname: "newbie"})
	require.Equal(t, service.StatusExists, decodeBody(t, rec)["status"])
}

func TestInviteGrantOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.user("admin", "uffd_admin")
	s.user("bob")
	g, err := s.dir.CreateGroup(s.ctx, "wiki", "")
	require.NoError(t, err)
	role, err := s.dir.CreateRole(s.ctx, service.RoleRequest{Name: "wiki", GroupIDs: []int64{g.ID}})
	require.NoError(t, err)

	rec := s.do(http.MethodPost, "/invite", service.InviteRequest{
		ValidUntil: time.Now().Add(time.Hour),
		SingleUse:  true,
		RoleIDs:    []int64{role.ID},
	}, withBearer(s.login("admin")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var inv InviteView
	decodeInto(t, rec, &inv)
	require.True(t, inv.Active)
	require.Len(t, inv.Token, 64)

	rec = s.do(http.MethodGet, "/invite/"+inv.Token+"/use", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	bob := withBearer(s.login("bob"))
	rec = s.do(http.MethodPost, "/invite/"+inv.Token+"/grant", nil, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/invite/"+inv.Token+"/grant", nil, bob)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/self", nil, bob)
	var self UserView
	decodeInto(t, rec, &self)
	require.Contains(t, self.Groups, "wiki")

	rec = s.do(http.MethodGet, "/invite/unknown/use", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/invite", nil, withBearer(s.login("admin")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list []InviteView
	decodeInto(t, rec, &list)
	require.Len(t, list, 1)
	require.NotEqual(t, inv.Token, list[0].Token)
	require.Len(t, list[0].Redemptions, 1)
	require.Equal(t, RedemptionView{Kind: "grant", Loginname: "bob", CreatedAt: list[0].Redemptions[0].CreatedAt}, list[0].Redemptions[0])
}

func TestInviteCreateRejectsPastExpiry(t *testing.T) {
	s := newTestServer(t)
	s.user("admin", "uffd_admin")

	rec := s.do(http.MethodPost, "/invite", service.InviteRequest{
		ValidUntil:  time.Now().Add(-time.Hour),
		AllowSignup: true,
	}, withBearer(s.login("admin")))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	require.Equal(t, "valid_until", decodeBody(t, rec)["field"])
}

func TestHealthzReportsStartup(t *testing.T) {
	startup := NewStartupStatus(StepDatabase, StepMigrations)
	startup.CompleteStep(StepDatabase)

	rec := httptest.NewRecorder()
	startup.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp startupResponse
	decodeInto(t, rec, &resp)
	require.Equal(t, 50, resp.Progress)

	guarded := startup.RequireReadyExcept(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), "/healthz")

	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	startup.MarkReady()
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
