package models

import "time"

// MFAType discriminates the rows of mfa_methods
type MFAType int

const (
	MFARecoveryCode MFAType = 0
	MFATOTP         MFAType = 1
)

// RecoveryCodeCount is the number of codes issued per generation
const RecoveryCodeCount = 10

// MFAMethod is a second factor of a user. TOTPKey is set for TOTP methods,
// RecoveryHash for recovery codes.
type MFAMethod struct {
	ID           int64
	UserID       int64
	Type         MFAType
	Name         string
	CreatedAt    time.Time
	TOTPKey      string
	RecoveryHash string
}

// MFAMethods is the second factor set of one user
type MFAMethods []MFAMethod

// Enabled reports whether login requires a second factor. Recovery codes
// alone do not enable it.
func (m MFAMethods) Enabled() bool {
	return len(m.OfType(MFATOTP)) > 0
}

// OfType returns the methods of type t
func (m MFAMethods) OfType(t MFAType) MFAMethods {
	var out MFAMethods
	for _, method := range m {
		if method.Type == t {
			out = append(out, method)
		}
	}
	return out
}
