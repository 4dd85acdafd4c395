// Package admission holds the pre-checks a request must pass before any
// credential logic runs: bot challenge, input format and redirect safety.
package admission

import (
	"net/mail"
	"regexp"
	"unicode/utf8"
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 80
	PasswordMinLen = 6
	// PasswordMaxLen is bcrypt's input limit in bytes.
	PasswordMaxLen = 72
	EmailMaxLen    = 120
	NameMinLen     = 2
	NameMaxLen     = 100
)

const (
	MsgUsernameCharset  = "Username can only contain letters, numbers, and underscores."
	MsgUsernameLength   = "Username must be between 3 and 80 characters long."
	MsgPasswordLength   = "Password must be between 6 and 72 characters long."
	MsgPasswordMismatch = "Passwords do not match."
	MsgEmailInvalid     = "Please enter a valid email address."
	MsgRequired         = "Username and password are required."
	MsgNameLength       = "Name must be between 2 and 100 characters long."
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidUsernameChars reports whether s uses only letters, digits and
// underscores.
func ValidUsernameChars(s string) bool {
	return usernameRe.MatchString(s)
}

// CheckUsername returns a user-facing message, or "" when s is acceptable.
func CheckUsername(s string) string {
	if !ValidUsernameChars(s) {
		return MsgUsernameCharset
	}
	if n := len(s); n < UsernameMinLen || n > UsernameMaxLen {
		return MsgUsernameLength
	}
	return ""
}

// CheckPassword applies the length policy. confirm is compared only when
// confirmRequired is set.
func CheckPassword(pw, confirm string, confirmRequired bool) string {
	if utf8.RuneCountInString(pw) < PasswordMinLen || len(pw) > PasswordMaxLen {
		return MsgPasswordLength
	}
	if confirmRequired && pw != confirm {
		return MsgPasswordMismatch
	}
	return ""
}

// ValidEmail accepts a bare address such as "a@b.example" and nothing else:
// no display names and no angle brackets.
func ValidEmail(s string) bool {
	if s == "" || len(s) > EmailMaxLen {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && addr.Name == ""
}

// CheckName applies the length policy for an applicant's display name.
func CheckName(s string) string {
	if n := utf8.RuneCountInString(s); n < NameMinLen || n > NameMaxLen {
		return MsgNameLength
	}
	return ""
}
