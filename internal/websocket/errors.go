package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed           = errors.New("connection closed")
	ErrWriteTimeout               = errors.New("write timeout")
	ErrInvalidJSON                = errors.New("invalid JSON data")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated before registration")
)
