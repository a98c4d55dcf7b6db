package credentials

import (
	"fmt"

	"github.com/sethvargo/go-password/password"
)

const (
	initialPasswordLength = 24
	initialPasswordDigits = 4
)

// GenerateInitialPassword returns a random password for accounts created by
// an administrator or an import. The user is expected to replace it through
// the password reset mail, so nobody ever needs to read it.
func GenerateInitialPassword() (string, error) {
	pw, err := password.Generate(initialPasswordLength, initialPasswordDigits, 0, false, true)
	if err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return pw, nil
}
