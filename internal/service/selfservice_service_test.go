package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"usergate/internal/models"
	"usergate/internal/ratelimit"
	"usergate/internal/security"
)

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	i := strings.LastIndex(link, "/")
	require.Positive(t, i)
	return link[i+1:]
}

func TestForgotPasswordIsSilent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")

	tests := []struct {
		name      string
		loginname string
		mail      string
		sends     bool
	}{
		{"unknown user", "nobody", "nobody@example.com", false},
		{"wrong mail", "alice", "other@example.com", false},
		{"matching", "Alice", alice.Mail, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(env.mailer.Calls)
			res, err := env.self.ForgotPassword(env.ctx, remote, tt.loginname, tt.mail)
			require.NoError(t, err)
			assert.Equal(t, success(msgResetRequested), res)
			if tt.sends {
				assert.Len(t, env.mailer.Calls, before+1)
				env.mailer.AssertCalled(t, "Send", mock.Anything, alice.Mail, "Password reset", MailPasswordReset, mock.Anything)
			} else {
				assert.Len(t, env.mailer.Calls, before)
			}
		})
	}
}

func TestForgotPasswordThrottled(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "alice")

	var err error
	for i := 0; i < 5 && err == nil; i++ {
		_, err = env.self.ForgotPassword(env.ctx, remote, "alice", "alice@example.com")
	}
	var throttled *ratelimit.ThrottledError
	require.ErrorAs(t, err, &throttled)
	assert.Equal(t, ratelimit.NamePasswordReset, throttled.Limiter)
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	require.NoError(t, env.self.SendPasswordReset(env.ctx, alice, false))
	token := tokenFromLink(t, env.mailer.lastLink(t, MailPasswordReset))
	assert.Len(t, token, 64)

	tests := []struct {
		name      string
		password1 string
		password2 string
		want      Result
	}{
		{"empty", "", "", fail(msgPasswordRequired)},
		{"mismatch", "new password", "other password", fail(msgResetMismatch)},
		{"too short", "short", "short", fail(msgResetInvalid)},
		{"valid", "new password", "new password", success(msgNewPasswordSet)},
		{"already used", "new password", "new password", fail(msgTokenExpired)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.self.ResetPassword(env.ctx, token, tt.password1, tt.password2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}

	alice = env.reload(t, alice)
	assert.True(t, security.CheckPassword("new password", alice.PasswordHash))
}

func TestResetPasswordExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	require.NoError(t, env.self.SendPasswordReset(env.ctx, alice, true))
	env.mailer.AssertCalled(t, "Send", mock.Anything, alice.Mail, "Welcome to the Example infrastructure", MailNewUser, mock.Anything)
	token := tokenFromLink(t, env.mailer.lastLink(t, MailNewUser))

	env.clock.Advance(models.TokenTTL + time.Minute)
	res, err := env.self.ResetPassword(env.ctx, token, "new password", "new password")
	require.NoError(t, err)
	assert.Equal(t, fail(msgTokenExpired), res)

	stored, err := env.self.repos().Tokens.GetPasswordToken(env.ctx, token)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSendPasswordResetReplacesToken(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")

	require.NoError(t, env.self.SendPasswordReset(env.ctx, alice, false))
	first := tokenFromLink(t, env.mailer.lastLink(t, MailPasswordReset))
	require.NoError(t, env.self.SendPasswordReset(env.ctx, alice, false))

	stored, err := env.self.repos().Tokens.GetPasswordToken(env.ctx, first)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestUpdateProfileAndVerifyMail(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")
	bob := env.user(t, "bob")

	results, err := env.self.UpdateProfile(env.ctx, alice, "Alice A.", "alice@example.net")
	require.NoError(t, err)
	assert.Equal(t, []Result{success(msgDisplaynameChanged), success(msgMailVerifySent)}, results)

	alice = env.reload(t, alice)
	assert.Equal(t, "Alice A.", alice.Displayname)
	assert.Equal(t, "alice@example.com", alice.Mail)

	token := tokenFromLink(t, env.mailer.lastLink(t, MailMailVerification))
	_, err = env.self.VerifyMail(env.ctx, bob, token)
	assert.ErrorIs(t, err, ErrAccessDenied)

	res, err := env.self.VerifyMail(env.ctx, alice, token)
	require.NoError(t, err)
	assert.Equal(t, success(msgNewMailSet), res)
	assert.Equal(t, "alice@example.net", env.reload(t, alice).Mail)

	res, err = env.self.VerifyMail(env.ctx, alice, token)
	require.NoError(t, err)
	assert.Equal(t, fail(msgTokenExpired), res)
}

func TestUpdateProfileInvalidValues(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")

	results, err := env.self.UpdateProfile(env.ctx, alice, "", "nomail")
	require.NoError(t, err)
	assert.Equal(t, []Result{fail(msgDisplaynameBad), fail(msgMailBad)}, results)
	assert.Equal(t, "alice", env.reload(t, alice).Displayname)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice")

	tests := []struct {
		name      string
		password1 string
		password2 string
		want      Result
	}{
		{"mismatch", "new password", "other", fail(msgPasswordsMismatch)},
		{"invalid", "short", "short", fail(msgPasswordBad)},
		{"valid", "new password", "new password", success(msgPasswordChanged)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.self.ChangePassword(env.ctx, alice, tt.password1, tt.password2)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
		})
	}
	assert.True(t, security.CheckPassword("new password", env.reload(t, alice).PasswordHash))
}

func TestLeaveRole(t *testing.T) {
	env := newTestEnv(t)
	role := env.role(t, "crew", nil, env.group(t, "crew"))
	alice := env.user(t, "alice", role)
	require.True(t, alice.IsInGroup("crew"))

	env.cfg.RoleSelfservice = false
	res, err := env.self.LeaveRole(env.ctx, alice, role.ID)
	require.NoError(t, err)
	assert.Equal(t, fail(msgLeaveDisabled), res)

	env.cfg.RoleSelfservice = true
	res, err = env.self.LeaveRole(env.ctx, alice, role.ID)
	require.NoError(t, err)
	assert.Equal(t, success("You left role crew"), res)

	alice = env.reload(t, alice)
	assert.False(t, alice.HasRole(role.ID))
	assert.False(t, alice.IsInGroup("crew"))

	_, err = env.self.LeaveRole(env.ctx, alice, 9999)
	assert.ErrorIs(t, err, ErrRoleNotFound)
}
