package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"usergate/internal/config"
	"usergate/internal/database"
	"usergate/internal/models"
	"usergate/internal/ratelimit"
	"usergate/internal/security"
	"usergate/internal/testutil"
)

const testPassword = "correct horse"

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, to, subject, template string, data any) error {
	args := m.Called(ctx, to, subject, template, data)
	return args.Error(0)
}

// lastLink returns the link of the most recent mail sent with template
func (m *mockMailer) lastLink(t *testing.T, template string) string {
	t.Helper()
	for i := len(m.Calls) - 1; i >= 0; i-- {
		call := m.Calls[i]
		if call.Arguments.String(3) == template {
			return call.Arguments.Get(4).(MailData).Link
		}
	}
	t.Fatalf("no %s mail sent", template)
	return ""
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	ctx    context.Context
	db     *database.DB
	cfg    *config.Config
	clock  *testClock
	store  *ratelimit.MemoryStore
	limits *ratelimit.Set
	mailer *mockMailer

	dir     *DirectoryService
	invites *InviteService
	signups *SignupService
	self    *SelfserviceService
	auth    *AuthService
	mfa     *MFAService
	mails   *MailService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		AdminGroup:         "uffd_admin",
		SignupGroup:        "uffd_signup",
		InviteMaxValidDays: 21,
		SelfSignup:         true,
		RoleSelfservice:    true,
		UIDMin:             10000,
		GIDMin:             20000,
		AppBaseURL:         "https://id.example.com",
		OrganisationName:   "Example",
	}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := ratelimit.NewMemoryStore(1024, ratelimit.MaxInterval(cfg))
	limits := ratelimit.NewSet(cfg, store, ratelimit.WithClock(clock.Now))

	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	issuer, err := security.NewTokenIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	db := testutil.NewDB(t)
	opt := WithClock(clock.Now)
	dir := NewDirectoryService(db, cfg, opt)
	return &testEnv{
		ctx:     context.Background(),
		db:      db,
		cfg:     cfg,
		clock:   clock,
		store:   store,
		limits:  limits,
		mailer:  mailer,
		dir:     dir,
		invites: NewInviteService(db, cfg, opt),
		signups: NewSignupService(db, cfg, dir, limits, mailer, opt),
		self:    NewSelfserviceService(db, cfg, limits, mailer, opt),
		auth:    NewAuthService(db, cfg, limits, issuer, opt),
		mfa:     NewMFAService(db, cfg, opt),
		mails:   NewMailService(db, cfg, opt),
	}
}

func (e *testEnv) group(t *testing.T, name string) *models.Group {
	t.Helper()
	g, err := e.dir.CreateGroup(e.ctx, name, "")
	require.NoError(t, err)
	return g
}

func (e *testEnv) role(t *testing.T, name string, moderator *models.Group, groups ...*models.Group) *models.Role {
	t.Helper()
	req := RoleRequest{Name: name}
	if moderator != nil {
		req.ModeratorGroupID = &moderator.ID
	}
	for _, g := range groups {
		req.GroupIDs = append(req.GroupIDs, g.ID)
	}
	r, err := e.dir.CreateRole(e.ctx, req)
	require.NoError(t, err)
	return r
}

func (e *testEnv) user(t *testing.T, loginname string, roles ...*models.Role) *models.User {
	t.Helper()
	req := UserRequest{Loginname: loginname, Mail: loginname + "@example.com", Password: testPassword}
	for _, r := range roles {
		req.RoleIDs = append(req.RoleIDs, r.ID)
	}
	u, err := e.dir.CreateUser(e.ctx, req)
	require.NoError(t, err)
	return e.reload(t, u)
}

// member creates a user that is a direct member of groups
func (e *testEnv) member(t *testing.T, loginname string, groups ...*models.Group) *models.User {
	t.Helper()
	u := e.user(t, loginname)
	var ids []int64
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	require.NoError(t, e.dir.SetDirectGroups(e.ctx, u.ID, ids))
	return e.reload(t, u)
}

func (e *testEnv) reload(t *testing.T, u *models.User) *models.User {
	t.Helper()
	fresh, err := e.dir.GetUser(e.ctx, u.ID)
	require.NoError(t, err)
	return fresh
}

func (e *testEnv) invite(t *testing.T, creator *models.User, req InviteRequest) *models.Invite {
	t.Helper()
	if req.ValidUntil.IsZero() {
		req.ValidUntil = e.clock.Now().Add(24 * time.Hour)
	}
	inv, err := e.invites.Create(e.ctx, creator, req)
	require.NoError(t, err)
	return inv
}

func (e *testEnv) lookup(t *testing.T, token string) (*models.Invite, bool) {
	t.Helper()
	inv, active, err := e.invites.Lookup(e.ctx, token)
	require.NoError(t, err)
	return inv, active
}

func roleNames(u *models.User) []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}
