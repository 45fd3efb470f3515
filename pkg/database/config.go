package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/mattn/go-sqlite3"
)

// ErrInvalidConfig wraps every Config.Validate failure.
var ErrInvalidConfig = errors.New("invalid database config")

// Config tunes the SQLite Manager.
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for production deployment without hardcoded values
type Config struct {
	DatabasePath    string        `json:"database_path" validate:"required"`
	MaxConnections  int           `json:"max_connections" validate:"gt=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" validate:"gt=0"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" validate:"gt=0"`
	WriteTimeout    time.Duration `json:"write_timeout" validate:"gt=0"`
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/carechat.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		WriteTimeout:    30 * time.Second,
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DSN returns the sqlite3 connection string. Foreign keys are switched on
// per connection so every pooled handle enforces the users references.
func (c *Config) DSN() string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_journal_mode", "WAL")
	params.Set("_foreign_keys", "on")
	return c.DatabasePath + "?" + params.Encode()
}

// TECHNICAL DISCOVERY: WAL mode enables concurrent reads while the manager
// keeps a single writer goroutine
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000", // 64MB
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// ApplySQLiteOptimizations runs the tuning pragmas on db.
func ApplySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}
