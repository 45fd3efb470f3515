package router

import "errors"

// Router error types. Handlers return these so Dispatch can decide whether
// the sender hears about it.
var (
	ErrEmptyMessage      = errors.New("message body is empty")
	ErrMissingRecipient  = errors.New("recipient_id is required")
	ErrSelfMessage       = errors.New("cannot send a message to yourself")
	ErrMissingSender     = errors.New("sender_id is required")
	ErrMissingPeer       = errors.New("other_user_id is required")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrPersistFailed     = errors.New("failed to save message")
	ErrHistoryFailed     = errors.New("failed to load message history")
)
