package types

import "errors"

// Wire and validation errors
var (
	ErrMalformedFrame    = errors.New("invalid JSON format")
	ErrInvalidField      = errors.New("invalid field value")
	ErrInvalidIdentifier = errors.New("identifier must be a positive integer")
	ErrInvalidUser       = errors.New("invalid user")
)
