package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usergate/internal/models"
	"usergate/internal/ratelimit"
	"usergate/internal/testutil"
)

func TestDirectoryRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	repos := New(testutil.NewDB(t))

	a, err := repos.Groups.Create(ctx, &models.Group{UnixGID: 20000, Name: "a"})
	require.NoError(t, err)
	b, err := repos.Groups.Create(ctx, &models.Group{UnixGID: 20001, Name: "b"})
	require.NoError(t, err)

	gid, err := repos.Groups.NextGID(ctx, 20000)
	require.NoError(t, err)
	assert.Equal(t, int64(20002), gid)

	role, err := repos.Roles.Create(ctx, &models.Role{Name: "staff", ModeratorGroupID: &a.ID})
	require.NoError(t, err)
	require.NoError(t, repos.Roles.SetGroups(ctx, role.ID, []int64{a.ID, b.ID}))

	u, err := repos.Users.Create(ctx, &models.User{UnixUID: 10000, Loginname: "alice", Displayname: "Alice", Mail: "alice@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	require.NoError(t, repos.Users.AddRole(ctx, u.ID, role.ID))
	require.NoError(t, repos.Users.AddRole(ctx, u.ID, role.ID))
	require.NoError(t, repos.Users.SetEffectiveGroups(ctx, u.ID, []int64{a.ID}))

	loaded, err := repos.Users.GetByLoginname(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, []string{"a"}, loaded.GroupNames())
	require.Len(t, loaded.Roles, 1)
	assert.Equal(t, "staff", loaded.Roles[0].Name)
	assert.Len(t, loaded.Roles[0].Groups, 2)
	require.NotNil(t, loaded.Roles[0].ModeratorGroupID)
	assert.True(t, loaded.Roles[0].ModeratedBy(loaded))

	members, err := repos.Roles.MemberIDs(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{u.ID}, members)

	names, err := repos.Groups.MemberLoginnames(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names)

	require.NoError(t, repos.Users.Delete(ctx, u.ID))
	gone, err := repos.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestInviteStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	repos := New(testutil.NewDB(t))

	role, err := repos.Roles.Create(ctx, &models.Role{Name: "r"})
	require.NoError(t, err)

	creator := int64(99)
	inv, err := repos.Invites.Create(ctx, &models.Invite{
		Token:      "t0ken",
		CreatorID:  &creator,
		ValidUntil: time.Now().Add(time.Hour),
		SingleUse:  true,
		Roles:      []models.Role{*role},
	})
	require.NoError(t, err)

	loaded, err := repos.Invites.GetByToken(ctx, "t0ken")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, inv.ID, loaded.ID)
	require.NotNil(t, loaded.CreatorID)
	assert.Equal(t, creator, *loaded.CreatorID)
	assert.True(t, loaded.HasRole(role.ID))

	missing, err := repos.Invites.GetByToken(ctx, "t0ke")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err := repos.Invites.MarkUsed(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repos.Invites.MarkUsed(ctx, inv.ID)
	require.NoError(t, err)
	assert.False(t, ok, "single use invite must not be marked twice")

	loaded.Reset()
	require.NoError(t, repos.Invites.SetState(ctx, loaded))
	ok, err = repos.Invites.MarkUsed(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRatelimitRepositoryBacksLimiter(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	repo := New(testutil.NewDB(t)).Ratelimit
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	l := ratelimit.New("login", time.Minute, 3, repo, ratelimit.WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Log(ctx, "alice"))
	}
	d, err := l.Delay(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	purged, err := repo.Purge(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), purged)
}

func TestMFAStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	repos := New(testutil.NewDB(t))
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	u, err := repos.Users.Create(ctx, &models.User{UnixUID: 10000, Loginname: "alice", Displayname: "Alice", Mail: "alice@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	code, err := repos.MFA.Create(ctx, &models.MFAMethod{UserID: u.ID, Type: models.MFARecoveryCode, CreatedAt: now, RecoveryHash: "h"})
	require.NoError(t, err)
	_, err = repos.MFA.Create(ctx, &models.MFAMethod{UserID: u.ID, Type: models.MFATOTP, Name: "phone", CreatedAt: now.Add(time.Second), TOTPKey: "JBSWY3DPEHPK3PXP"})
	require.NoError(t, err)

	methods, err := repos.MFA.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, models.MFARecoveryCode, methods[0].Type)
	assert.Equal(t, "phone", methods[1].Name)
	assert.True(t, methods.Enabled())

	ok, err := repos.MFA.Delete(ctx, u.ID+1, code.ID)
	require.NoError(t, err)
	assert.False(t, ok, "another user must not delete the code")
	ok, err = repos.MFA.Delete(ctx, u.ID, code.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repos.MFA.Delete(ctx, u.ID, code.ID)
	require.NoError(t, err)
	assert.False(t, ok, "a code is consumed once")

	require.NoError(t, repos.Users.Delete(ctx, u.ID))
	methods, err = repos.MFA.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, methods)
}

func TestMailStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	repos := New(testutil.NewDB(t))

	m, err := repos.Mails.Create(ctx, &models.Mail{
		Name:                 "support",
		ReceiveAddresses:     []string{"support@example.com", "help@example.com"},
		DestinationAddresses: []string{"alice@example.org"},
	})
	require.NoError(t, err)

	loaded, err := repos.Mails.GetByName(ctx, "support")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, m.ID, loaded.ID)
	assert.Equal(t, []string{"help@example.com", "support@example.com"}, loaded.ReceiveAddresses)

	found, err := repos.Mails.FindByReceiveAddress(ctx, "help@example.com")
	require.NoError(t, err)
	require.Len(t, found, 1)
	found, err = repos.Mails.FindByDestinationAddress(ctx, "help@example.com")
	require.NoError(t, err)
	assert.Empty(t, found)

	require.NoError(t, repos.Mails.SetAddresses(ctx, m.ID, []string{"support@example.com"}, nil))
	loaded, err = repos.Mails.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"support@example.com"}, loaded.ReceiveAddresses)
	assert.Empty(t, loaded.DestinationAddresses)

	require.NoError(t, repos.Mails.Delete(ctx, m.ID))
	gone, err := repos.Mails.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
