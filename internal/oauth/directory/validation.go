package directory

import (
	"errors"
	"regexp"
	"unicode"

	"github.com/AlibekovAA/oauth-token-core/internal/common/constants"
)

var (
	ErrUsernameLength  = errors.New("username must be between 3 and 50 characters")
	ErrUsernameChars   = errors.New("username may contain letters, digits, '.', '_' and '-' and must start and end with a letter or digit")
	ErrPasswordLength  = errors.New("password must be between 8 and 72 bytes")
	ErrPasswordLetters = errors.New("password must contain at least one letter and one digit")
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateCredentials checks a new account's username and password. Login
// never runs it, so existing accounts keep working if the rules tighten.
func ValidateCredentials(username, password string) error {
	if len(username) < constants.UsernameMinLength || len(username) > constants.MaxSubjectLength {
		return ErrUsernameLength
	}
	if !isValidUsername(username) {
		return ErrUsernameChars
	}
	if len(password) < constants.PasswordMinLength || len(password) > constants.PasswordMaxLength {
		return ErrPasswordLength
	}
	if !isValidPassword(password) {
		return ErrPasswordLetters
	}
	return nil
}

func isValidUsername(value string) bool {
	if !usernameRegex.MatchString(value) {
		return false
	}

	first, last := rune(value[0]), rune(value[len(value)-1])
	return (unicode.IsLetter(first) || unicode.IsDigit(first)) &&
		(unicode.IsLetter(last) || unicode.IsDigit(last))
}

func isValidPassword(value string) bool {
	hasLetter := false
	hasDigit := false

	for _, r := range value {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
		if hasLetter && hasDigit {
			return true
		}
	}

	return false
}
