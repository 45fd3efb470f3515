package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrUserExists      = errors.New("user already exists")
	ErrStoreClosed     = errors.New("message store is closed")
)
