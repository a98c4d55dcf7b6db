package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const (
	maxLoginnameLength   = 32
	maxDisplaynameLength = 128
	minPasswordLength    = 8
	maxPasswordLength    = 256
	maxMailAliasLength   = 128
)

// ValidateLoginname checks that the login name is 1-32 characters from
// [a-z0-9_-], which keeps it safe for use as a unix account name
func ValidateLoginname(loginname string) error {
	if loginname == "" {
		return ValidationError{Field: "loginname", Message: "login name is required"}
	}
	if len(loginname) > maxLoginnameLength {
		return ValidationError{Field: "loginname", Message: "login name must be at most 32 characters"}
	}
	for _, r := range loginname {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' && r != '-' {
			return ValidationError{Field: "loginname", Message: "login name may only contain a-z, 0-9, _ and -"}
		}
	}
	return nil
}

// ValidateDisplayname checks the display name is between 1 and 128 characters
func ValidateDisplayname(displayname string) error {
	n := utf8.RuneCountInString(displayname)
	if n < 1 {
		return ValidationError{Field: "displayname", Message: "display name is required"}
	}
	if n > maxDisplaynameLength {
		return ValidationError{Field: "displayname", Message: "display name must be at most 128 characters"}
	}
	return nil
}

// ValidatePassword checks if a password meets requirements
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n == 0 {
		return ValidationError{Field: "password", Message: "password is required"}
	}
	if n < minPasswordLength {
		return ValidationError{Field: "password", Message: "password must be at least 8 characters"}
	}
	if n > maxPasswordLength {
		return ValidationError{Field: "password", Message: "password must be at most 256 characters"}
	}
	return nil
}

// ValidateMail is deliberately loose: at least three characters and an @.
// Ownership is proven by the confirmation mail, not by syntax.
func ValidateMail(mail string) error {
	if len(mail) < 3 || !strings.Contains(mail, "@") {
		return ValidationError{Field: "mail", Message: "invalid mail address"}
	}
	return nil
}

// ValidateMailAlias checks the name of a mail alias is 1-128 characters from
// [a-z0-9._-]
func ValidateMailAlias(name string) error {
	if name == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > maxMailAliasLength {
		return ValidationError{Field: "name", Message: "name must be at most 128 characters"}
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' && r != '-' && r != '.' {
			return ValidationError{Field: "name", Message: "name may only contain a-z, 0-9, ., _ and -"}
		}
	}
	return nil
}
