package presence

import "errors"

// Registry errors
var (
	ErrNilSession = errors.New("session cannot be nil")
	ErrEmptyGroup = errors.New("group name cannot be empty")
)
