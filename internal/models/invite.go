package models

import "time"

// InvitePolicy names the groups that control who may create and hold invites
type InvitePolicy struct {
	AdminGroup  string
	SignupGroup string
}

// Invite is a capability token granting signup and/or roles
type Invite struct {
	ID          int64
	Token       string
	CreatedAt   time.Time
	CreatorID   *int64
	ValidUntil  time.Time
	SingleUse   bool
	AllowSignup bool
	Used        bool
	Disabled    bool
	Roles       []Role

	// Grants and Signups hold the redemption history. They are only loaded
	// for invite listings.
	Grants  []InviteGrant
	Signups []Signup

	// Creator is resolved from CreatorID by the caller. It stays nil when
	// CreatorID is nil or the user no longer exists.
	Creator *User
}

// Expired reports whether now, truncated to the minute, is past ValidUntil
func (i *Invite) Expired(now time.Time) bool {
	return now.Truncate(time.Minute).After(i.ValidUntil)
}

// Voided reports whether a single-use invite was already redeemed
func (i *Invite) Voided() bool {
	return i.SingleUse && i.Used
}

// Permitted reports whether the creator is (still) allowed to hand out
// everything this invite grants
func (i *Invite) Permitted(policy InvitePolicy) bool {
	if i.CreatorID == nil {
		return true
	}
	if i.Creator == nil {
		return false
	}
	if i.Creator.IsInGroup(policy.AdminGroup) {
		return true
	}
	if i.AllowSignup && !i.Creator.IsInGroup(policy.SignupGroup) {
		return false
	}
	for idx := range i.Roles {
		if !i.Roles[idx].ModeratedBy(i.Creator) {
			return false
		}
	}
	return true
}

// Active reports whether the invite can be redeemed at now
func (i *Invite) Active(now time.Time, policy InvitePolicy) bool {
	return !i.Disabled && !i.Voided() && !i.Expired(now) && i.Permitted(policy)
}

// Disable blocks the invite until Reset
func (i *Invite) Disable() {
	i.Disabled = true
}

// Reset clears disabled and used. Expiry is unaffected.
func (i *Invite) Reset() {
	i.Disabled = false
	i.Used = false
}

// ShortToken returns a display-safe prefix of the token
func (i *Invite) ShortToken() string {
	if len(i.Token) < 30 {
		return "<too short>"
	}
	return i.Token[:10] + "…"
}

// HasRole reports whether the invite grants the role
func (i *Invite) HasRole(roleID int64) bool {
	for _, r := range i.Roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

// InviteGrant records a successful redemption of an invite by an existing user
type InviteGrant struct {
	ID        int64
	InviteID  int64
	UserID    int64
	Loginname string
	CreatedAt time.Time
}
