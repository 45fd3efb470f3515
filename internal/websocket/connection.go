// Package websocket carries chat sessions over gorilla/websocket.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"carechat/internal/presence"
	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// Presence is the membership side of the presence registry.
type Presence interface {
	Join(group string, session interfaces.Session) error
	Leave(group string, session interfaces.Session)
}

// Dispatcher receives every decoded client event.
type Dispatcher interface {
	Dispatch(ctx context.Context, sender interfaces.Session, event types.InboundEvent)
}

// Settings tune a connection's timers and limits.
type Settings struct {
	WriteTimeout   time.Duration // per frame write deadline and enqueue wait
	PingInterval   time.Duration // 0 disables heartbeats
	ReadTimeout    time.Duration // idle limit, extended by every frame and pong
	MaxMessageSize int64
	SendQueue      int
}

// DefaultSettings returns the production connection settings.
func DefaultSettings() Settings {
	return Settings{
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendQueue:      100,
	}
}

// Connection is one live chat session and implements interfaces.Session.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions,
// so every outbound frame and ping goes through a single writer goroutine
type Connection struct {
	id         string
	conn       *websocket.Conn
	writeCh    chan []byte // never closed; writers select on ctx instead
	presence   Presence
	dispatcher Dispatcher
	settings   Settings
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once

	mu       sync.RWMutex // protects identity, group and logger
	identity types.Identity
	group    string
	logger   zerolog.Logger
}

var _ interfaces.Session = (*Connection)(nil)

// NewConnection wraps conn and starts its writer. The connection is not
// part of any group until Open succeeds.
func NewConnection(conn *websocket.Conn, p Presence, d Dispatcher, settings Settings, logger zerolog.Logger) *Connection {
	if settings.SendQueue <= 0 {
		settings.SendQueue = DefaultSettings().SendQueue
	}
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = DefaultSettings().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Connection{
		id:         id,
		conn:       conn,
		writeCh:    make(chan []byte, settings.SendQueue),
		presence:   p,
		dispatcher: d,
		settings:   settings,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With().Str("component", "websocket").Str("conn_id", id).Logger(),
	}

	go c.writeLoop()
	return c
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// Identity returns the authenticated identity, zero before Open.
func (c *Connection) Identity() types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Group returns the inbox group joined by Open.
func (c *Connection) Group() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.group
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Open registers an authenticated connection with its inbox group and
// acknowledges the client. A zero identity closes the connection.
func (c *Connection) Open(identity types.Identity) error {
	if identity.IsZero() {
		_ = c.Close()
		return ErrConnectionNotAuthenticated
	}

	group := presence.GroupName(identity.UserID)
	c.mu.Lock()
	c.identity = identity
	c.group = group
	c.logger = c.logger.With().Stringer("user_id", identity.UserID).Logger()
	c.mu.Unlock()

	if err := c.presence.Join(group, c); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to join %s: %w", group, err)
	}

	if err := c.Deliver(types.NewConnectionEstablished(identity.UserID)); err != nil {
		_ = c.Close()
		return err
	}

	c.log().Info().Str("group", group).Msg("session opened")
	return nil
}

// Deliver encodes event and queues it for the writer. It fails once the
// connection is closed or when the queue stays full past the write timeout.
func (c *Connection) Deliver(event types.OutboundEvent) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	timer := time.NewTimer(c.settings.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close leaves the inbox group and closes the socket. Every exit path
// ends here; calls after the first are no-ops.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		group := c.Group()
		if group != "" {
			c.presence.Leave(group, c)
		}

		if c.conn != nil {
			err = c.conn.Close()
		}
		c.log().Info().Msg("session closed")
	})
	return err
}

// Receive decodes one text frame. Protocol errors are answered on this
// connection only and leave it open.
func (c *Connection) Receive(ctx context.Context, data []byte) {
	event, err := types.DecodeInbound(data)
	if err != nil {
		c.log().Debug().Err(err).Msg("rejected inbound frame")
		if derr := c.Deliver(types.NewErrorFrame(frameError(err))); derr != nil {
			_ = c.Close()
		}
		return
	}

	c.dispatcher.Dispatch(ctx, c, event)
}

func frameError(err error) string {
	if errors.Is(err, types.ErrMalformedFrame) {
		return "Invalid JSON format"
	}
	return err.Error()
}

// Serve runs the read pump until the peer goes away, the read deadline
// expires, ctx is cancelled or the connection is closed elsewhere.
func (c *Connection) Serve(ctx context.Context) {
	defer func() { _ = c.Close() }()

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.ctx.Done():
		}
	}()

	if c.settings.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.settings.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log().Debug().Err(err).Msg("read failed")
			}
			return
		}
		c.extendReadDeadline()

		if messageType != websocket.TextMessage {
			c.log().Debug().Int("message_type", messageType).Msg("ignoring non-text frame")
			continue
		}
		c.Receive(c.ctx, data)
	}
}

func (c *Connection) extendReadDeadline() {
	if c.settings.ReadTimeout <= 0 {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
}

// writeLoop is the only goroutine that writes data frames and pings.
// A failed write closes the connection.
func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.settings.PingInterval > 0 {
		ticker := time.NewTicker(c.settings.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-ping:
			deadline := time.Now().Add(c.settings.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) fail(err error) {
	c.log().Debug().Err(err).Msg("write failed, closing session")
	_ = c.Close()
}

func (c *Connection) log() *zerolog.Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l := c.logger
	return &l
}
