// Package app wires carechat's components together and owns their
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"carechat/internal/api"
	"carechat/internal/auth"
	"carechat/internal/config"
	"carechat/internal/history"
	"carechat/internal/presence"
	"carechat/internal/router"
	"carechat/internal/users"
	"carechat/internal/websocket"
)

// MaintenanceInterval is how often idle rate limiter state is pruned.
const MaintenanceInterval = time.Minute

var (
	ErrAlreadyRunning = errors.New("application is already running")
	ErrNotRunning     = errors.New("application is not running")
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config    *config.Config
	logger    zerolog.Logger
	store     *Store
	directory *users.Directory
	tokens    *auth.TokenManager
	registry  *presence.Registry
	router    *router.Router
	apiServer *api.Server

	mu          sync.Mutex
	httpServer  *http.Server
	listener    net.Listener
	stopMaint   context.CancelFunc
	maintDone   chan struct{}
	serveErr    chan error
	running     bool
	storeClosed bool
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Store → Directory → Auth → Registry → History → Router → WebSocket → API
func NewApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// STEP 1: Message store and user directory backend, migrated
	store, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("driver", store.Driver).Int("migrations_applied", store.Applied).Msg("message store ready")

	app, err := build(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, cfg *config.Config, store *Store, logger zerolog.Logger) (*Application, error) {
	// STEP 2: User directory cache
	directory := users.NewDirectory(store, logger)
	if err := directory.Load(ctx); err != nil {
		return nil, err
	}

	// STEP 3: Authentication
	var tokens *auth.TokenManager
	if cfg.Auth.Secret != "" {
		var err error
		tokens, err = auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return nil, err
		}
	}
	authenticator, err := auth.NewAuthenticator(cfg.Auth.Mode, tokens, directory, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}
	if cfg.Auth.Mode == auth.ModeDevelopment {
		logger.Warn().Msg("development auth mode: clients are trusted by user_id, do not use in production")
	}

	// STEP 4: Presence registry, history and the message router
	registry := presence.NewRegistry(logger)
	hist := history.NewService(store, cfg.Chat.HistoryPageSize)
	messageRouter := router.NewRouter(registry, store, hist, router.Options{
		RateLimitPerMinute:  cfg.Chat.RateLimitPerMinute,
		ReportPersistErrors: cfg.Chat.ReportPersistErrors,
	}, logger)

	// STEP 5: WebSocket handler
	wsHandler := websocket.NewHandler(authenticator, registry, messageRouter, websocket.Settings{
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendQueue:      cfg.WebSocket.BufferSize,
	}, cfg.WebSocket.IOBufferSize, cfg.WebSocket.AllowedOrigins, logger)

	// STEP 6: HTTP API with the /ws route
	apiServer := api.NewServer(api.Deps{
		Store:          store,
		Auth:           authenticator,
		Presence:       registry,
		History:        hist,
		Router:         messageRouter,
		WebSocket:      wsHandler,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		StoreStats:     store.Stats,
	}, logger)

	return &Application{
		config:    cfg,
		logger:    logger.With().Str("component", "app").Logger(),
		store:     store,
		directory: directory,
		tokens:    tokens,
		registry:  registry,
		router:    messageRouter,
		apiServer: apiServer,
	}, nil
}

// Handler is the root HTTP handler, for embedding or tests.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Directory returns the user directory.
func (app *Application) Directory() *users.Directory {
	return app.directory
}

// Tokens returns the token manager, nil when no secret is configured.
func (app *Application) Tokens() *auth.TokenManager {
	return app.tokens
}

// Registry returns the presence registry.
func (app *Application) Registry() *presence.Registry {
	return app.registry
}

// Router returns the message router.
func (app *Application) Router() *router.Router {
	return app.router
}

// Store returns the message store.
func (app *Application) Store() *Store {
	return app.store
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.running {
		return ErrAlreadyRunning
	}
	if app.storeClosed {
		return ErrNotRunning
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", app.config.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.config.Address(), err)
	}

	app.httpServer = &http.Server{
		Handler:           app.apiServer,
		ReadHeaderTimeout: app.config.HTTP.ReadTimeout,
		WriteTimeout:      app.config.HTTP.WriteTimeout,
	}
	app.listener = ln
	app.serveErr = make(chan error, 1)

	go func(srv *http.Server, errCh chan<- error) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error().Err(err).Msg("HTTP server failed")
			errCh <- err
		}
		close(errCh)
	}(app.httpServer, app.serveErr)

	maintCtx, cancel := context.WithCancel(context.Background())
	app.stopMaint = cancel
	app.maintDone = make(chan struct{})
	go func(done chan<- struct{}) {
		defer close(done)
		app.router.RunMaintenance(maintCtx, MaintenanceInterval)
	}(app.maintDone)

	app.running = true
	app.logger.Info().Str("addr", ln.Addr().String()).Msg("carechat started")
	return nil
}

// Addr is the bound listen address once started, else the configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.config.Address()
}

// Errors reports a fatal HTTP server error; it is closed when serving ends.
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP listener → live sessions → maintenance → store
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	var errs []error

	if app.running {
		app.running = false

		// STEP 1: Stop accepting new connections
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}

		// STEP 2: Close every live session; each leaves its group
		closed := app.registry.CloseAll()
		app.logger.Info().Int("sessions", closed).Msg("closed live sessions")

		// STEP 3: Stop background maintenance
		app.stopMaint()
		select {
		case <-app.maintDone:
		case <-ctx.Done():
		}
	} else {
		app.registry.CloseAll()
	}

	// STEP 4: Close database connections
	if !app.storeClosed {
		app.storeClosed = true
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database shutdown: %w", err))
		}
	}

	app.logger.Info().Msg("carechat shutdown complete")
	return errors.Join(errs...)
}
