package interfaces

import (
	"context"

	"carechat/pkg/types"
)

// MessageStore is the durable append-only log of chat messages.
// ARCHITECTURAL DISCOVERY: The store alone assigns identifiers and creation
// timestamps, so both are monotonic regardless of how many sessions write
type MessageStore interface {
	// InsertMessage persists a message and returns it with its assigned ID
	// and timestamp. Fails if either user is unknown.
	InsertMessage(ctx context.Context, from, to types.ID, body string) (*types.ChatMessage, error)

	// MessagesBetween returns messages exchanged between a and b (either
	// direction) with ID > sinceID, oldest first, at most limit entries.
	MessagesBetween(ctx context.Context, a, b, sinceID types.ID, limit int) ([]*types.ChatMessage, error)

	// CountMessages returns the number of persisted messages.
	CountMessages(ctx context.Context) (int64, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// UserStore persists directory users.
type UserStore interface {
	CreateUser(ctx context.Context, user *types.User) error

	// GetUser returns ErrUserNotFound for unknown ids.
	GetUser(ctx context.Context, id types.ID) (*types.User, error)

	ListUsers(ctx context.Context) ([]*types.User, error)
}

// DatabaseManager is a backend serving both messages and users.
type DatabaseManager interface {
	MessageStore
	UserStore
}
