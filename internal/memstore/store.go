// Package memstore keeps chat messages and users in process memory.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// ErrUnknownUser is returned when a message references a user that is not
// in the directory.
var ErrUnknownUser = errors.New("unknown user")

// Store implements interfaces.DatabaseManager without durability.
type Store struct {
	mu       sync.RWMutex
	messages []*types.ChatMessage
	users    map[types.ID]*types.User
	nextID   types.ID
	last     time.Time
	closed   bool

	// Now is the clock used for creation times. Defaults to time.Now.
	Now         func() time.Time
	failInserts error
}

var _ interfaces.DatabaseManager = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:  make(map[types.ID]*types.User),
		nextID: 1,
		Now:    time.Now,
	}
}

// FailInserts makes every later InsertMessage return err. A nil err
// restores normal behaviour.
func (s *Store) FailInserts(err error) {
	s.mu.Lock()
	s.failInserts = err
	s.mu.Unlock()
}

// InsertMessage appends a message, assigning the next id and a creation
// time no earlier than the previous one.
func (s *Store) InsertMessage(_ context.Context, from, to types.ID, body string) (*types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, interfaces.ErrStoreClosed
	}
	if s.failInserts != nil {
		return nil, s.failInserts
	}
	if _, ok := s.users[from]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, from)
	}
	if _, ok := s.users[to]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, to)
	}

	created := s.Now().UTC()
	if created.Before(s.last) {
		created = s.last
	}
	s.last = created

	msg := &types.ChatMessage{
		ID:        s.nextID,
		From:      from,
		To:        to,
		Body:      body,
		CreatedAt: created,
	}
	s.nextID++
	s.messages = append(s.messages, msg)

	stored := *msg
	return &stored, nil
}

// MessagesBetween returns the oldest limit messages between a and b with id
// greater than sinceID.
func (s *Store) MessagesBetween(_ context.Context, a, b, sinceID types.ID, limit int) ([]*types.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, interfaces.ErrStoreClosed
	}

	page := lo.Filter(s.messages, func(m *types.ChatMessage, _ int) bool {
		return m.ID > sinceID &&
			((m.From == a && m.To == b) || (m.From == b && m.To == a))
	})
	sort.SliceStable(page, func(i, j int) bool {
		if !page[i].CreatedAt.Equal(page[j].CreatedAt) {
			return page[i].CreatedAt.Before(page[j].CreatedAt)
		}
		return page[i].ID < page[j].ID
	})
	if len(page) > limit {
		page = page[:limit]
	}

	return lo.Map(page, func(m *types.ChatMessage, _ int) *types.ChatMessage {
		c := *m
		return &c
	}), nil
}

// CountMessages returns the number of stored messages.
func (s *Store) CountMessages(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.messages)), nil
}

// CreateUser adds a directory user.
func (s *Store) CreateUser(_ context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%w: id %s", interfaces.ErrUserExists, user.ID)
	}
	for _, u := range s.users {
		if u.Username == user.Username {
			return fmt.Errorf("%w: %s", interfaces.ErrUserExists, user.Username)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.Now().UTC()
	}

	stored := *user
	s.users[user.ID] = &stored
	return nil
}

// GetUser looks a user up by id.
func (s *Store) GetUser(_ context.Context, id types.ID) (*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

// ListUsers returns every user ordered by id.
func (s *Store) ListUsers(context.Context) ([]*types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := lo.Map(lo.Values(s.users), func(u *types.User, _ int) *types.User {
		c := *u
		return &c
	})
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// HealthCheck fails once the store is closed.
func (s *Store) HealthCheck(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return interfaces.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
