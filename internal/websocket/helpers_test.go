package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"carechat/internal/presence"
	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// queryAuth trusts ?user_id= and refuses user 403 as forbidden.
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

type dispatched struct {
	sender interfaces.Session
	event  types.InboundEvent
}

// recordingDispatcher captures dispatched events.
type recordingDispatcher struct {
	events chan dispatched
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{events: make(chan dispatched, 16)}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, sender interfaces.Session, event types.InboundEvent) {
	d.events <- dispatched{sender: sender, event: event}
}

func (d *recordingDispatcher) next(t *testing.T) dispatched {
	t.Helper()
	select {
	case ev := <-d.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event dispatched")
		return dispatched{}
	}
}

type testServer struct {
	*httptest.Server
	registry   *presence.Registry
	dispatcher *recordingDispatcher
}

func newTestServer(t *testing.T, settings Settings) *testServer {
	t.Helper()
	registry := presence.NewRegistry(zerolog.Nop())
	dispatcher := newRecordingDispatcher()
	handler := NewHandler(queryAuth{}, registry, dispatcher, settings, 1024, nil, zerolog.Nop())

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
	})
	return &testServer{Server: srv, registry: registry, dispatcher: dispatcher}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.wsURL(query), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *testServer) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?" + query
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}
