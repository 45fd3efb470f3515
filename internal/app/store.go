package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"carechat/internal/config"
	"carechat/internal/database"
	"carechat/internal/memstore"
	"carechat/internal/postgres"
	"carechat/pkg/interfaces"
)

// Store is the message store and user directory selected by
// database.driver, already migrated.
type Store struct {
	interfaces.DatabaseManager
	Driver string
	// Applied counts migrations run while opening.
	Applied int
	stats   func() any
}

// Stats returns driver specific pool details for /health.
func (s *Store) Stats() any {
	if s.stats == nil {
		return map[string]string{"driver": s.Driver}
	}
	return s.stats()
}

// OpenStore connects to the configured backend and applies pending
// migrations.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		m, err := database.NewManager(cfg.SQLite(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		applied, err := m.Migrate()
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		return &Store{
			DatabaseManager: m,
			Driver:          cfg.Driver,
			Applied:         applied,
			stats: func() any {
				st := m.GetDB().Stats()
				return map[string]any{
					"driver":           config.DriverSQLite,
					"open_connections": st.OpenConnections,
					"in_use":           st.InUse,
					"idle":             st.Idle,
				}
			},
		}, nil

	case config.DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.URL, int32(cfg.MaxConnections), int32(cfg.MinConnections), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		applied, err := s.Migrate(ctx)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		return &Store{
			DatabaseManager: s,
			Driver:          cfg.Driver,
			Applied:         applied,
			stats: func() any {
				return struct {
					Driver string `json:"driver"`
					postgres.PoolStats
				}{config.DriverPostgres, postgres.GetPoolStats(s.Pool())}
			},
		}, nil

	case config.DriverMemory:
		return &Store{DatabaseManager: memstore.New(), Driver: cfg.Driver}, nil

	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", config.ErrInvalidConfig, cfg.Driver)
	}
}
