package types

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate      = validator.New()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@+-]+$`)
)

// Validate checks the user against the directory rules.
// FUNCTIONAL DISCOVERY: Username charset mirrors the login form's accepted
// characters so directory entries can always be typed back in
func (u *User) Validate() error {
	u.Username = strings.TrimSpace(u.Username)
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	if !usernameRegex.MatchString(u.Username) {
		return fmt.Errorf("%w: username may only contain letters, digits and _.@+-", ErrInvalidUser)
	}
	return nil
}

// NormalizeBody trims a chat message body. An empty result means the message
// must be dropped.
func NormalizeBody(body string) string {
	return strings.TrimSpace(body)
}
