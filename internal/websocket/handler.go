package websocket

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"carechat/pkg/interfaces"
)

// Handler authenticates handshakes, upgrades them and serves the resulting
// sessions.
// ARCHITECTURAL DISCOVERY: Authentication runs before the upgrade so refused
// clients get a plain HTTP status and no WebSocket frames are ever exchanged
type Handler struct {
	auth       interfaces.Authenticator
	presence   Presence
	dispatcher Dispatcher
	settings   Settings
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewHandler creates a WebSocket handler. An empty allowedOrigins, or one
// containing "*", accepts every origin.
func NewHandler(auth interfaces.Authenticator, p Presence, d Dispatcher, settings Settings, bufferSize int, allowedOrigins []string, logger zerolog.Logger) *Handler {
	return &Handler{
		auth:       auth,
		presence:   p,
		dispatcher: d,
		settings:   settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   bufferSize,
			WriteBufferSize:  bufferSize,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      originChecker(allowedOrigins),
		},
		logger: logger.With().Str("component", "ws_handler").Logger(),
	}
}

// ServeHTTP handles one handshake and blocks until the session ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrForbidden):
			http.Error(w, "Forbidden", http.StatusForbidden)
		case errors.Is(err, interfaces.ErrUnauthenticated):
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		default:
			h.logger.Error().Err(err).Msg("authentication backend failed")
			http.Error(w, "Authentication unavailable", http.StatusInternalServerError)
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := NewConnection(conn, h.presence, h.dispatcher, h.settings, h.logger)
	if err := session.Open(identity); err != nil {
		h.logger.Warn().Err(err).Stringer("user_id", identity.UserID).Msg("session open failed")
		return
	}

	session.Serve(r.Context())
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients send no Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return lo.ContainsBy(allowed, func(a string) bool {
			return strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host)
		})
	}
}
