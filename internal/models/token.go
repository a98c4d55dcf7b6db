package models

import "time"

// TokenTTL is the lifetime of password reset and mail verification tokens
const TokenTTL = 2 * 24 * time.Hour

// PasswordToken authorizes setting a new password for loginname
type PasswordToken struct {
	Token     string
	Loginname string
	CreatedAt time.Time
}

// Expired reports whether the token is older than TokenTTL
func (t *PasswordToken) Expired(now time.Time) bool {
	return t.CreatedAt.Before(now.Add(-TokenTTL))
}

// MailToken confirms ownership of a new mail address
type MailToken struct {
	Token     string
	Loginname string
	NewMail   string
	CreatedAt time.Time
}

// Expired reports whether the token is older than TokenTTL
func (t *MailToken) Expired(now time.Time) bool {
	return t.CreatedAt.Before(now.Add(-TokenTTL))
}
