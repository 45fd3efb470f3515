// Package history serves paged message history for a pair of users.
package history

import (
	"context"
	"errors"
	"fmt"

	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// MaxPageSize is the largest page a single query returns.
const MaxPageSize = 50

// ErrMissingPeer is returned when no other user was named.
var ErrMissingPeer = errors.New("history query requires the other user's id")

// Service answers history queries from the message store. It never writes.
type Service struct {
	store    interfaces.MessageStore
	pageSize int
}

// NewService creates a history service. pageSize outside 1..MaxPageSize
// falls back to MaxPageSize.
func NewService(store interfaces.MessageStore, pageSize int) *Service {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &Service{store: store, pageSize: pageSize}
}

// PageSize is the limit applied when a query asks for none.
func (s *Service) PageSize() int {
	return s.pageSize
}

// Query returns messages between a and b, in either direction, with id
// greater than sinceID, oldest first. limit is clamped to the page size.
// No match yields an empty, non-nil slice.
func (s *Service) Query(ctx context.Context, a, b, sinceID types.ID, limit int) ([]*types.ChatMessage, error) {
	if a.IsZero() || b.IsZero() {
		return nil, ErrMissingPeer
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}

	messages, err := s.store.MessagesBetween(ctx, a, b, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}
	return messages, nil
}
