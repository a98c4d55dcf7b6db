package models

import "time"

// SignupTTL is how long a pending signup can be confirmed
const SignupTTL = 48 * time.Hour

// Signup is a pending account awaiting mail confirmation
type Signup struct {
	ID           int64
	Token        string
	Loginname    string
	Displayname  string
	Mail         string
	PasswordHash string
	CreatedAt    time.Time
	Completed    bool
	UserID       *int64

	// InviteID is set for signups started from an invite link
	InviteID *int64
}

// Expired reports whether the confirmation window has passed
func (s *Signup) Expired(now time.Time) bool {
	return now.After(s.CreatedAt.Add(SignupTTL))
}

// IsInvite reports whether the signup was started from an invite
func (s *Signup) IsInvite() bool {
	return s.InviteID != nil
}
