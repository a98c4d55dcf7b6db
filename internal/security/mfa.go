package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     = 30
	totpSecretSize = 16
	recoveryBytes  = 8
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// NewTOTPKey generates a fresh TOTP secret. The key carries the base32
// secret and the otpauth:// URI for authenticator apps.
func NewTOTPKey(issuer, accountName string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}
	return key, nil
}

// VerifyTOTP reports whether code is valid for secret at now. Codes of the
// neighbouring periods are accepted to tolerate clock drift.
func VerifyTOTP(secret, code string, now time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totpOpts)
	return err == nil && ok
}

// TOTPCode returns the code of secret at t
func TOTPCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), totpOpts)
}

// GenerateRecoveryCode returns a random 16 character hex code
func GenerateRecoveryCode() (string, error) {
	b := make([]byte, recoveryBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NormalizeRecoveryCode drops the spaces users type between groups of a
// recovery code and lowercases it
func NormalizeRecoveryCode(code string) string {
	return strings.ToLower(strings.ReplaceAll(code, " ", ""))
}
