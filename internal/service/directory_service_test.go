package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usergate/internal/validation"
)

func TestGroupProjection(t *testing.T) {
	env := newTestEnv(t)
	a, b, c, d := env.group(t, "a"), env.group(t, "b"), env.group(t, "c"), env.group(t, "d")
	r1 := env.role(t, "r1", nil, a, b)
	r2 := env.role(t, "r2", nil, b, c)

	first := env.user(t, "first", r1, r2)
	second := env.user(t, "second", r2, r1)
	for _, u := range []int64{first.ID, second.ID} {
		require.NoError(t, env.dir.SetDirectGroups(env.ctx, u, []int64{d.ID}))
	}

	for _, u := range []int64{first.ID, second.ID} {
		got, err := env.dir.GetUser(env.ctx, u)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, got.GroupNames())
	}

	// dropping r2 keeps b through r1
	require.NoError(t, env.dir.RemoveRole(env.ctx, first.ID, r2.ID))
	got, err := env.dir.GetUser(env.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d"}, got.GroupNames())

	// changing a role's groups reaches every member
	require.NoError(t, env.dir.SetRoleGroups(env.ctx, r1.ID, []int64{a.ID}))
	got, err = env.dir.GetUser(env.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, got.GroupNames())

	members, err := env.dir.GroupMembers(env.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, members)
}

func TestDeleteGroupRecomputesMembers(t *testing.T) {
	env := newTestEnv(t)
	a, b, mods := env.group(t, "a"), env.group(t, "b"), env.group(t, "mods")
	r1 := env.role(t, "r1", mods, a, b)

	viaRole := env.user(t, "viarole", r1)
	direct := env.member(t, "direct", b)
	both := env.user(t, "both", r1)
	require.NoError(t, env.dir.SetDirectGroups(env.ctx, both.ID, []int64{b.ID}))

	require.NoError(t, env.dir.DeleteGroup(env.ctx, b.ID))

	assert.Equal(t, []string{"a"}, env.reload(t, viaRole).GroupNames())
	assert.Empty(t, env.reload(t, direct).GroupNames())
	assert.Equal(t, []string{"a"}, env.reload(t, both).GroupNames())

	roles, err := env.dir.ListRoles(env.ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Len(t, roles[0].Groups, 1)
	assert.Equal(t, "a", roles[0].Groups[0].Name)

	// a deleted moderator group no longer moderates
	require.NoError(t, env.dir.DeleteGroup(env.ctx, mods.ID))
	roles, err = env.dir.ListRoles(env.ctx)
	require.NoError(t, err)
	assert.Nil(t, roles[0].ModeratorGroupID)

	assert.ErrorIs(t, env.dir.DeleteGroup(env.ctx, b.ID), ErrGroupNotFound)

	// the name is free again
	_, err = env.dir.CreateGroup(env.ctx, "b", "")
	require.NoError(t, err)
}

func TestDeleteRoleRecomputesMembers(t *testing.T) {
	env := newTestEnv(t)
	admin := env.member(t, "admin", env.group(t, "uffd_admin"))
	a, b := env.group(t, "a"), env.group(t, "b")
	r1 := env.role(t, "r1", nil, a)
	r2 := env.role(t, "r2", nil, a, b)

	u := env.user(t, "alice", r1, r2)
	require.NoError(t, env.dir.SetDirectGroups(env.ctx, u.ID, []int64{b.ID}))
	inv := env.invite(t, admin, InviteRequest{RoleIDs: []int64{r1.ID, r2.ID}})

	require.NoError(t, env.dir.DeleteRole(env.ctx, r2.ID))

	got := env.reload(t, u)
	assert.Equal(t, []string{"r1"}, roleNames(got))
	assert.Equal(t, []string{"a", "b"}, got.GroupNames())

	require.NoError(t, env.dir.DeleteRole(env.ctx, r1.ID))
	got = env.reload(t, u)
	assert.Empty(t, got.Roles)
	assert.Equal(t, []string{"b"}, got.GroupNames())

	loaded, _ := env.lookup(t, inv.Token)
	assert.Empty(t, loaded.Roles)

	assert.ErrorIs(t, env.dir.DeleteRole(env.ctx, r1.ID), ErrRoleNotFound)
}

func TestCreateUserErrors(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "taken")

	tests := []struct {
		name string
		req  UserRequest
		want error
	}{
		{"taken", UserRequest{Loginname: "taken", Mail: "x@example.com"}, ErrLoginnameTaken},
		{"unknown role", UserRequest{Loginname: "fresh", Mail: "x@example.com", RoleIDs: []int64{42}}, ErrUnknownRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.dir.CreateUser(env.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := env.dir.CreateUser(env.ctx, UserRequest{Loginname: "UPPER", Mail: "x@example.com"})
	var verr validation.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCreateUserAllocatesUIDs(t *testing.T) {
	env := newTestEnv(t)
	first := env.user(t, "first")
	second := env.user(t, "second")

	assert.Equal(t, env.cfg.UIDMin, first.UnixUID)
	assert.Equal(t, env.cfg.UIDMin+1, second.UnixUID)
	assert.Equal(t, "first", first.Displayname)
}

func TestDeleteUserRemovesEdges(t *testing.T) {
	env := newTestEnv(t)
	crew := env.group(t, "crew")
	role := env.role(t, "crew", nil, crew)
	u := env.user(t, "leaving", role)

	require.NoError(t, env.dir.DeleteUser(env.ctx, u.ID))
	_, err := env.dir.GetUser(env.ctx, u.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)

	members, err := env.dir.GroupMembers(env.ctx, crew.ID)
	require.NoError(t, err)
	assert.Empty(t, members)

	assert.ErrorIs(t, env.dir.DeleteUser(env.ctx, u.ID), ErrUserNotFound)
}

func TestUpdateUserReplacesRoles(t *testing.T) {
	env := newTestEnv(t)
	r1 := env.role(t, "r1", nil, env.group(t, "a"))
	r2 := env.role(t, "r2", nil, env.group(t, "b"))
	u := env.user(t, "alice", r1)

	mail := "alice@example.net"
	roles := []int64{r2.ID}
	got, err := env.dir.UpdateUser(env.ctx, u.ID, UserUpdate{Mail: &mail, RoleIDs: &roles})
	require.NoError(t, err)
	assert.Equal(t, mail, got.Mail)
	assert.Equal(t, []string{"r2"}, roleNames(got))
	assert.Equal(t, []string{"b"}, got.GroupNames())
}

func TestImportCSV(t *testing.T) {
	env := newTestEnv(t)
	role1 := env.role(t, "role1", nil, env.group(t, "one"))
	role2 := env.role(t, "role2", nil, env.group(t, "two"))
	env.user(t, "existing")

	input := strings.Join([]string{
		fmt.Sprintf("newuser1,newuser1@example.com,%d", role1.ID),
		fmt.Sprintf("newuser2,newuser2@example.com, %d;%d", role1.ID, role2.ID),
		fmt.Sprintf("newuser3,newuser3@example.com,%d;%d;%d", role2.ID, role2.ID, 999),
		"newuser4,newuser4@example.com,abc",
		"newuser5,newuser5@example.com",
		"Invalid Name,bad@example.com,",
		"newuser6,invalid,",
		"existing,existing@example.com,",
		"newuser7",
	}, "\n")

	report, err := env.dir.ImportCSV(env.ctx, strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, report.Created, 5)

	lines := make([]int, 0, len(report.Skipped))
	for _, s := range report.Skipped {
		lines = append(lines, s.Line)
	}
	assert.Equal(t, []int{6, 7, 8, 9}, lines)

	tests := []struct {
		loginname string
		roles     []string
	}{
		{"newuser1", []string{"role1"}},
		{"newuser2", []string{"role1", "role2"}},
		{"newuser3", []string{"role2"}},
		{"newuser4", []string{}},
		{"newuser5", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.loginname, func(t *testing.T) {
			u, err := env.dir.GetUserByLoginname(env.ctx, tt.loginname)
			require.NoError(t, err)
			assert.Equal(t, tt.loginname, u.Displayname)
			assert.Equal(t, tt.loginname+"@example.com", u.Mail)
			assert.ElementsMatch(t, tt.roles, roleNames(u))
		})
	}
}

func TestFindUsersAndGroups(t *testing.T) {
	env := newTestEnv(t)
	crew := env.group(t, "crew")
	env.group(t, "empty")
	role := env.role(t, "crew", nil, crew)
	alice := env.user(t, "alice", role)
	env.user(t, "bob")

	userTests := []struct {
		key, value string
		want       []string
	}{
		{"", "", []string{"alice", "bob"}},
		{"id", fmt.Sprint(alice.UnixUID), []string{"alice"}},
		{"id", "not-a-number", nil},
		{"loginname", "bob", []string{"bob"}},
		{"email", "alice@example.com", []string{"alice"}},
		{"group", "crew", []string{"alice"}},
		{"group", "", nil},
	}
	for _, tt := range userTests {
		t.Run("users "+tt.key+"="+tt.value, func(t *testing.T) {
			users, err := env.dir.FindUsers(env.ctx, tt.key, tt.value)
			require.NoError(t, err)
			var names []string
			for _, u := range users {
				names = append(names, u.Loginname)
			}
			assert.Equal(t, tt.want, names)
		})
	}

	groups, err := env.dir.FindGroups(env.ctx, "member", "alice")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "crew", groups[0].Name)
	assert.Equal(t, []string{"alice"}, groups[0].Members)

	groups, err = env.dir.FindGroups(env.ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, groups, 2)

	_, err = env.dir.FindUsers(env.ctx, "mail", "x")
	assert.ErrorIs(t, err, ErrInvalidFilter)
	_, err = env.dir.FindGroups(env.ctx, "owner", "x")
	assert.ErrorIs(t, err, ErrInvalidFilter)
}
