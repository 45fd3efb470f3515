// Package users keeps the chat directory: who may connect and what name
// their peers see.
package users

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// Directory is a read-through cache over a UserStore.
type Directory struct {
	store  interfaces.UserStore
	logger zerolog.Logger
	users  map[types.ID]*types.User
	mu     sync.RWMutex
}

var _ interfaces.UserLookup = (*Directory)(nil)

// NewDirectory creates a directory backed by store
func NewDirectory(store interfaces.UserStore, logger zerolog.Logger) *Directory {
	return &Directory{
		store:  store,
		logger: logger.With().Str("component", "users").Logger(),
		users:  make(map[types.ID]*types.User),
	}
}

// Load warms the cache with every stored user.
func (d *Directory) Load(ctx context.Context) error {
	list, err := d.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}

	d.mu.Lock()
	for _, u := range list {
		d.users[u.ID] = u
	}
	d.mu.Unlock()

	d.logger.Info().Int("users", len(list)).Msg("user directory loaded")
	return nil
}

// Get returns the user with id, consulting the store on a cache miss.
// Unknown ids yield interfaces.ErrUserNotFound.
func (d *Directory) Get(ctx context.Context, id types.ID) (*types.User, error) {
	d.mu.RLock()
	if u, ok := d.users[id]; ok {
		d.mu.RUnlock()
		return u, nil
	}
	d.mu.RUnlock()

	u, err := d.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.users[id] = u
	d.mu.Unlock()
	return u, nil
}

// DisplayName resolves the name shown to peers, falling back to the
// numeric id when the user cannot be found.
func (d *Directory) DisplayName(ctx context.Context, id types.ID) string {
	u, err := d.Get(ctx, id)
	if err != nil {
		return id.String()
	}
	return u.DisplayName()
}

// Create validates and stores a new user.
func (d *Directory) Create(ctx context.Context, user *types.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	if err := d.store.CreateUser(ctx, user); err != nil {
		return err
	}

	d.mu.Lock()
	d.users[user.ID] = user
	d.mu.Unlock()

	d.logger.Info().Stringer("user_id", user.ID).Str("username", user.Username).Msg("user created")
	return nil
}

// List returns every stored user ordered by id.
func (d *Directory) List(ctx context.Context) ([]*types.User, error) {
	return d.store.ListUsers(ctx)
}

// CacheSize reports how many users are cached.
func (d *Directory) CacheSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
