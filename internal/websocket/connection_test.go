package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechat/internal/presence"
	"carechat/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// rawConnection upgrades a single test request and hands the server-side
// socket to fn.
func rawConnection(t *testing.T, fn func(*websocket.Conn)) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(conn)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestConnection_OpenRejectsZeroIdentity(t *testing.T) {
	registry := presence.NewRegistry(zerolog.Nop())
	result := make(chan error, 1)

	client := rawConnection(t, func(conn *websocket.Conn) {
		c := NewConnection(conn, registry, newRecordingDispatcher(), DefaultSettings(), zerolog.Nop())
		result <- c.Open(types.Identity{})
	})

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectionNotAuthenticated)
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return")
	}
	assert.Equal(t, presence.Stats{}, registry.Stats())

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	assert.Error(t, err, "server closed the socket without sending frames")
}

func TestConnection_CloseIdempotent(t *testing.T) {
	registry := presence.NewRegistry(zerolog.Nop())
	conns := make(chan *Connection, 1)

	rawConnection(t, func(conn *websocket.Conn) {
		c := NewConnection(conn, registry, newRecordingDispatcher(), DefaultSettings(), zerolog.Nop())
		assert.NoError(t, c.Open(types.Identity{UserID: 5, DisplayName: "five"}))
		conns <- c
	})
	c := <-conns
	assert.Equal(t, 1, registry.ConnectionCount("chat_group_5"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
	}
	wg.Wait()

	assert.Zero(t, registry.ConnectionCount("chat_group_5"))
	assert.ErrorIs(t, c.Deliver(types.NewErrorFrame("late")), ErrConnectionClosed)
	assert.NoError(t, c.Close())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestConnection_CloseLeavesOnlyItself(t *testing.T) {
	registry := presence.NewRegistry(zerolog.Nop())
	conns := make(chan *Connection, 2)

	for i := 0; i < 2; i++ {
		rawConnection(t, func(conn *websocket.Conn) {
			c := NewConnection(conn, registry, newRecordingDispatcher(), DefaultSettings(), zerolog.Nop())
			assert.NoError(t, c.Open(types.Identity{UserID: 8, DisplayName: "eight"}))
			conns <- c
		})
	}
	first, second := <-conns, <-conns
	require.Equal(t, 2, registry.ConnectionCount("chat_group_8"))

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	assert.Equal(t, 1, registry.ConnectionCount("chat_group_8"))
	assert.Equal(t, []string{second.ID()}, []string{registry.Members("chat_group_8")[0].ID()})
}

func TestConnection_DeliverWritesJSON(t *testing.T) {
	registry := presence.NewRegistry(zerolog.Nop())
	conns := make(chan *Connection, 1)

	client := rawConnection(t, func(conn *websocket.Conn) {
		c := NewConnection(conn, registry, newRecordingDispatcher(), DefaultSettings(), zerolog.Nop())
		conns <- c
	})
	c := <-conns
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Deliver(types.NewReadReceipt(12, 3)))
	frame := readFrame(t, client)
	assert.Equal(t, "read_receipt", frame["type"])
	assert.Equal(t, float64(12), frame["message_id"])
	assert.Equal(t, float64(3), frame["read_by"])
}

func TestConnection_ServeStopsOnContextCancel(t *testing.T) {
	registry := presence.NewRegistry(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})

	rawConnection(t, func(conn *websocket.Conn) {
		c := NewConnection(conn, registry, newRecordingDispatcher(), DefaultSettings(), zerolog.Nop())
		assert.NoError(t, c.Open(types.Identity{UserID: 4, DisplayName: "four"}))
		c.Serve(ctx)
		close(served)
	})

	eventually(t, func() bool { return registry.IsOnline(4) })
	cancel()

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.False(t, registry.IsOnline(4))
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 5*time.Second, s.WriteTimeout)
	assert.Equal(t, 30*time.Second, s.PingInterval)
	assert.Equal(t, 60*time.Second, s.ReadTimeout)
	assert.Equal(t, int64(64*1024), s.MaxMessageSize)
	assert.Equal(t, 100, s.SendQueue)
}
