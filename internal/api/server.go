// Package api is the HTTP surface of carechat: health probes, history and
// presence queries, and the /ws upgrade route.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"carechat/internal/history"
	"carechat/internal/presence"
	"carechat/internal/router"
	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

// RouterStats reports routed and dropped event counters.
type RouterStats interface {
	Stats() router.Stats
}

// Deps are the components the API reads from.
type Deps struct {
	Store          interfaces.MessageStore
	Auth           interfaces.Authenticator
	Presence       *presence.Registry
	History        *history.Service
	Router         RouterStats
	WebSocket      http.Handler
	AllowedOrigins []string
	// StoreStats, when set, adds driver specific details to /health.
	StoreStats func() any
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Deps
	echo    *echo.Echo
	logger  zerolog.Logger
	started time.Time
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Connections presence.Stats `json:"connections"`
	Router      router.Stats   `json:"router"`
	Store       any            `json:"store,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PresenceResponse reports one user's live sessions.
type PresenceResponse struct {
	UserID      types.ID `json:"user_id"`
	Online      bool     `json:"online"`
	Connections int      `json:"connections"`
}

// NewServer builds the echo instance and registers every route.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		deps:    deps,
		echo:    e,
		logger:  logger.With().Str("component", "api").Logger(),
		started: time.Now(),
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(recovery(s.logger))
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) { c.Set(requestIDKey, id) },
	}))
	e.Use(requestLogger(s.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: corsOrigins(deps.AllowedOrigins),
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
	}))

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions
// Probes stay public; chat data requires the same identity as the WebSocket
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.health)
	s.echo.GET("/ready", s.ready)
	s.echo.GET("/live", s.live)

	if s.deps.WebSocket != nil {
		s.echo.GET("/ws", echo.WrapHandler(s.deps.WebSocket))
	}

	api := s.echo.Group("/api", authenticate(s.deps.Auth))
	api.GET("/messages", s.messages)
	api.GET("/presence", s.presenceStats)
	api.GET("/presence/:user_id", s.userPresence)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// FUNCTIONAL DISCOVERY: GET /health - static status plus live counters
func (s *Server) health(c echo.Context) error {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.deps.Presence != nil {
		resp.Connections = s.deps.Presence.Stats()
	}
	if s.deps.Router != nil {
		resp.Router = s.deps.Router.Stats()
	}
	if s.deps.StoreStats != nil {
		resp.Store = s.deps.StoreStats()
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /ready - 503 until the store answers
func (s *Server) ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("readiness check failed")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// FUNCTIONAL DISCOVERY: GET /api/messages?with=&since=&limit= - the
// get_messages history page for the authenticated user
func (s *Server) messages(c echo.Context) error {
	identity := identityFrom(c)

	with, err := queryID(c, "with")
	if err != nil {
		return err
	}
	if with.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "with is required")
	}
	since, err := queryID(c, "since")
	if err != nil {
		return err
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
	}

	messages, err := s.deps.History.Query(c.Request().Context(), identity.UserID, with, since, limit)
	if err != nil {
		s.logger.Error().Err(err).Stringer("user_id", identity.UserID).Msg("history query failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load message history")
	}
	return c.JSON(http.StatusOK, types.NewMessageHistory(messages))
}

// GET /api/presence
func (s *Server) presenceStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Presence.Stats())
}

// GET /api/presence/:user_id
func (s *Server) userPresence(c echo.Context) error {
	id, err := types.ParseID(c.Param("user_id"))
	if err != nil || id.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	count := s.deps.Presence.ConnectionCount(presence.GroupName(id))
	return c.JSON(http.StatusOK, PresenceResponse{
		UserID:      id,
		Online:      count > 0,
		Connections: count,
	})
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := http.StatusText(code)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	} else {
		s.logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
	}

	body := ErrorResponse{Error: http.StatusText(code), Code: code, Message: message}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to write error response")
	}
}

func queryID(c echo.Context, name string) (types.ID, error) {
	raw := c.QueryParam(name)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	id, err := types.ParseID(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a positive integer")
	}
	return id, nil
}

func corsOrigins(allowed []string) []string {
	if len(allowed) == 0 {
		return []string{"*"}
	}
	return allowed
}
