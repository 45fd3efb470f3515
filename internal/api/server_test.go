package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechat/internal/history"
	"carechat/internal/memstore"
	"carechat/internal/presence"
	"carechat/internal/router"
	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// queryAuth trusts ?user_id=; user 403 is forbidden.
type queryAuth struct{}

func (queryAuth) Authenticate(r *http.Request) (types.Identity, error) {
	id, err := types.ParseID(r.URL.Query().Get("user_id"))
	if err != nil {
		return types.Identity{}, interfaces.ErrUnauthenticated
	}
	if id == 403 {
		return types.Identity{}, interfaces.ErrForbidden
	}
	return types.Identity{UserID: id, DisplayName: "user " + id.String()}, nil
}

type stubSession struct {
	id string
}

func (s *stubSession) ID() string                        { return s.id }
func (s *stubSession) Identity() types.Identity          { return types.Identity{} }
func (s *stubSession) Deliver(types.OutboundEvent) error { return nil }
func (s *stubSession) Close() error                      { return nil }

type fixture struct {
	server   *Server
	store    *memstore.Store
	registry *presence.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	ctx := context.Background()
	for _, u := range []*types.User{
		{ID: 1, Username: "ann"},
		{ID: 2, Username: "bob"},
		{ID: 3, Username: "cy"},
	} {
		require.NoError(t, store.CreateUser(ctx, u))
	}

	registry := presence.NewRegistry(zerolog.Nop())
	hist := history.NewService(store, 50)
	rt := router.NewRouter(registry, store, hist, router.Options{}, zerolog.Nop())

	server := NewServer(Deps{
		Store:      store,
		Auth:       queryAuth{},
		Presence:   registry,
		History:    hist,
		Router:     rt,
		StoreStats: func() any { return map[string]string{"driver": "memory"} },
	}, zerolog.Nop())

	return &fixture{server: server, store: store, registry: registry}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestServer_Probes(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/live")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Router.Dropped, router.DropUnknownType)
	assert.NotNil(t, health.Store)

	require.NoError(t, f.store.Close())
	rec = f.get(t, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusServiceUnavailable, body.Code)
	assert.Equal(t, "database unavailable", body.Message)

	// liveness does not depend on the store
	assert.Equal(t, http.StatusOK, f.get(t, "/live").Code)
}

func TestServer_Authentication(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/api/presence")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, decode[ErrorResponse](t, rec).Code)

	rec = f.get(t, "/api/presence?user_id=403")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.get(t, "/api/presence?user_id=1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Messages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []types.ID
	for _, m := range []struct {
		from, to types.ID
		body     string
	}{
		{1, 2, "hello"},
		{2, 1, "hi ann"},
		{1, 3, "other thread"},
		{1, 2, "how are you"},
	} {
		msg, err := f.store.InsertMessage(ctx, m.from, m.to, m.body)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	rec := f.get(t, "/api/messages?user_id=1&with=2")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[types.MessageHistory](t, rec)
	assert.Equal(t, types.EventMessageHistory, page.Type)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, "hello", page.Messages[0].Message)
	assert.Equal(t, "how are you", page.Messages[2].Message)

	rec = f.get(t, "/api/messages?user_id=2&with=1&since="+ids[1].String())
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[types.MessageHistory](t, rec)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, ids[3], page.Messages[0].ID)

	rec = f.get(t, "/api/messages?user_id=1&with=2&limit=1")
	page = decode[types.MessageHistory](t, rec)
	assert.Len(t, page.Messages, 1)

	rec = f.get(t, "/api/messages?user_id=3&with=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"type":"message_history","messages":[]}`, rec.Body.String())
}

func TestServer_MessagesBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		query string
	}{
		{"missing peer", "user_id=1"},
		{"bad peer", "user_id=1&with=abc"},
		{"bad since", "user_id=1&with=2&since=-4"},
		{"bad limit", "user_id=1&with=2&limit=x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, "/api/messages?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decode[ErrorResponse](t, rec)
			assert.Equal(t, "Bad Request", body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestServer_MessagesStoreFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Close())

	rec := f.get(t, "/api/messages?user_id=1&with=2")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to load message history", decode[ErrorResponse](t, rec).Message)
}

func TestServer_Presence(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Join(presence.GroupName(2), &stubSession{id: "a"}))
	require.NoError(t, f.registry.Join(presence.GroupName(2), &stubSession{id: "b"}))
	require.NoError(t, f.registry.Join(presence.GroupName(3), &stubSession{id: "c"}))

	rec := f.get(t, "/api/presence?user_id=1")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[presence.Stats](t, rec)
	assert.Equal(t, 2, stats.Groups)
	assert.Equal(t, 3, stats.Connections)

	rec = f.get(t, "/api/presence/2?user_id=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, PresenceResponse{UserID: 2, Online: true, Connections: 2}, decode[PresenceResponse](t, rec))

	rec = f.get(t, "/api/presence/9?user_id=1")
	assert.Equal(t, PresenceResponse{UserID: 9, Online: false, Connections: 0}, decode[PresenceResponse](t, rec))

	rec = f.get(t, "/api/presence/nobody?user_id=1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	f := newFixture(t)
	f.server.Echo().GET("/boom", func(echo.Context) error {
		panic(errors.New("boom"))
	})

	rec := f.get(t, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[ErrorResponse](t, rec).Message)
}

func TestServer_NotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decode[ErrorResponse](t, rec).Code)
}
