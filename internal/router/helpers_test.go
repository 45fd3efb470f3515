package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"carechat/internal/history"
	"carechat/internal/memstore"
	"carechat/internal/presence"
	"carechat/pkg/types"
)

var errBrokenPipe = errors.New("broken pipe")

// testSession is an in-memory interfaces.Session registered in a group.
type testSession struct {
	id       string
	identity types.Identity
	registry *presence.Registry
	broken   bool

	mu     sync.Mutex
	events []types.OutboundEvent
	closed int
}

func (s *testSession) ID() string               { return s.id }
func (s *testSession) Identity() types.Identity { return s.identity }

func (s *testSession) Deliver(ev types.OutboundEvent) error {
	if s.broken {
		return errBrokenPipe
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *testSession) Close() error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	s.registry.Leave(presence.GroupName(s.identity.UserID), s)
	return nil
}

func (s *testSession) received() []types.OutboundEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.OutboundEvent(nil), s.events...)
}

func (s *testSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fixture wires a router over a memory store seeded with users 1..3.
type fixture struct {
	router   *Router
	registry *presence.Registry
	store    *memstore.Store
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	store := memstore.New()
	for _, u := range []types.User{
		{ID: 1, Username: "drsmith", FirstName: "Ann", LastName: "Smith"},
		{ID: 2, Username: "patient2"},
		{ID: 3, Username: "patient3"},
	} {
		user := u
		require.NoError(t, store.CreateUser(context.Background(), &user))
	}

	registry := presence.NewRegistry(zerolog.Nop())
	return &fixture{
		router:   NewRouter(registry, store, history.NewService(store, history.MaxPageSize), opts, zerolog.Nop()),
		registry: registry,
		store:    store,
	}
}

func (f *fixture) connect(t *testing.T, userID types.ID, name string) *testSession {
	t.Helper()
	s := &testSession{
		id:       uuid.NewString(),
		identity: types.Identity{UserID: userID, DisplayName: name},
		registry: f.registry,
	}
	require.NoError(t, f.registry.Join(presence.GroupName(userID), s))
	return s
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	n, err := f.store.CountMessages(context.Background())
	require.NoError(t, err)
	return n
}
