package repository

import (
	"usergate/internal/database"
)

// Repos bundles the repositories over one Querier. Built over a *database.Tx
// every call joins that transaction.
type Repos struct {
	Users     *UserRepository
	Groups    *GroupRepository
	Roles     *RoleRepository
	Invites   *InviteRepository
	Signups   *SignupRepository
	Tokens    *TokenRepository
	Ratelimit *RatelimitRepository
	MFA       *MFARepository
	Mails     *MailRepository
}

// New creates all repositories over q
func New(q database.Querier) *Repos {
	return &Repos{
		Users:     NewUserRepository(q),
		Groups:    NewGroupRepository(q),
		Roles:     NewRoleRepository(q),
		Invites:   NewInviteRepository(q),
		Signups:   NewSignupRepository(q),
		Tokens:    NewTokenRepository(q),
		Ratelimit: NewRatelimitRepository(q),
		MFA:       NewMFARepository(q),
		Mails:     NewMailRepository(q),
	}
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
