package auth

import (
	"errors"
	"fmt"

	"carechat/pkg/interfaces"
)

// Authentication errors. Those wrapping interfaces.ErrUnauthenticated map to
// 401, those wrapping interfaces.ErrForbidden to 403.
var (
	ErrMissingCredentials = fmt.Errorf("%w: missing credentials", interfaces.ErrUnauthenticated)
	ErrInvalidToken       = fmt.Errorf("%w: invalid token", interfaces.ErrUnauthenticated)
	ErrInvalidUserID      = fmt.Errorf("%w: invalid user_id", interfaces.ErrUnauthenticated)
	ErrUnknownUser        = fmt.Errorf("%w: user is not in the chat directory", interfaces.ErrForbidden)

	ErrEmptySecret    = errors.New("token secret cannot be empty")
	ErrInvalidMode    = errors.New("auth mode must be 'jwt' or 'development'")
	ErrNoTokenManager = errors.New("jwt mode requires a token manager")
)
