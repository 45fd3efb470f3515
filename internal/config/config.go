// Package config loads carechat settings from defaults, an optional config
// file, CARECHAT_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	dbconfig "carechat/pkg/database"
)

// EnvPrefix prefixes every environment override, e.g. CARECHAT_HTTP_PORT.
const EnvPrefix = "CARECHAT"

// ConfigFileEnv names a config file when --config is not given.
const ConfigFileEnv = "CARECHAT_CONFIG_FILE"

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig selects and tunes the message store.
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver" validate:"oneof=sqlite postgres memory"`
	Path           string        `mapstructure:"path" validate:"required_if=Driver sqlite"`
	URL            string        `mapstructure:"url" validate:"required_if=Driver postgres"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxConnections int           `mapstructure:"max_connections" validate:"gt=0"`
	MinConnections int           `mapstructure:"min_connections" validate:"gte=0,ltefield=MaxConnections"`
}

// HTTPConfig configures the listener.
type HTTPConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=0,max=65535"` // 0 picks a free port
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// WebSocketConfig tunes chat sessions.
// FUNCTIONAL DISCOVERY: ping_interval 0 disables heartbeats; read_timeout
// still closes idle sessions
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval" validate:"gte=0"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	BufferSize     int           `mapstructure:"buffer_size" validate:"gt=0"`
	IOBufferSize   int           `mapstructure:"io_buffer_size" validate:"gt=0"`
	MaxMessageSize int64         `mapstructure:"max_message_size" validate:"gt=0"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// AuthConfig selects how handshakes are authenticated.
type AuthConfig struct {
	Mode     string        `mapstructure:"mode" validate:"oneof=jwt development"`
	Secret   string        `mapstructure:"secret" validate:"required_if=Mode jwt"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
}

// ChatConfig tunes message routing.
type ChatConfig struct {
	HistoryPageSize     int  `mapstructure:"history_page_size" validate:"min=1,max=50"`
	RateLimitPerMinute  int  `mapstructure:"rate_limit_per_minute" validate:"gte=0"`
	ReportPersistErrors bool `mapstructure:"report_persist_errors"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults
// SQLite on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
var defaults = map[string]any{
	"database.driver":          DriverSQLite,
	"database.path":            "./data/carechat.db",
	"database.url":             "",
	"database.timeout":         30 * time.Second,
	"database.max_connections": 10,
	"database.min_connections": 0,

	"http.host":             "0.0.0.0",
	"http.port":             8080,
	"http.read_timeout":     30 * time.Second,
	"http.write_timeout":    0, // hijacked WebSocket connections outlive any write timeout
	"http.shutdown_timeout": 30 * time.Second,

	"websocket.ping_interval":    30 * time.Second,
	"websocket.read_timeout":     60 * time.Second,
	"websocket.write_timeout":    5 * time.Second,
	"websocket.buffer_size":      100,
	"websocket.io_buffer_size":   1024,
	"websocket.max_message_size": 64 * 1024,
	"websocket.allowed_origins":  []string{},

	"auth.mode":      "development",
	"auth.secret":    "",
	"auth.issuer":    "carechat",
	"auth.token_ttl": 24 * time.Hour,

	"chat.history_page_size":     50,
	"chat.rate_limit_per_minute": 100,
	"chat.report_persist_errors": false,

	"log.level":  "info",
	"log.format": "json",
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"host":      "http.host",
	"port":      "http.port",
	"driver":    "database.driver",
	"db-path":   "database.path",
	"log-level": "log.level",
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	cfg, err := decode(withDefaults())
	if err != nil {
		panic(fmt.Sprintf("config: bad defaults: %v", err))
	}
	return cfg
}

// Load builds the configuration. Precedence, highest first: flags that were
// set explicitly, environment, config file, defaults. An empty path falls
// back to $CARECHAT_CONFIG_FILE; no file at all is fine.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withDefaults() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

func newViper() *viper.Viper {
	v := withDefaults()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.WebSocket.AllowedOrigins = lo.Compact(lo.Map(cfg.WebSocket.AllowedOrigins, func(o string, _ int) string {
		return strings.TrimSpace(o)
	}))
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the combinations between them.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := lo.Map(fieldErrs, func(fe validator.FieldError, _ int) string {
				key := strings.TrimPrefix(fe.Namespace(), "Config.")
				if fe.Param() != "" {
					return fmt.Sprintf("%s fails %s=%s", key, fe.Tag(), fe.Param())
				}
				return fmt.Sprintf("%s fails %s", key, fe.Tag())
			})
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.WebSocket.PingInterval > 0 && c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return fmt.Errorf("%w: websocket.ping_interval must be shorter than websocket.read_timeout", ErrInvalidConfig)
	}
	return nil
}

// Address is the listen address for the HTTP server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// SQLite converts the database section into SQLite manager settings.
func (c DatabaseConfig) SQLite() *dbconfig.Config {
	sc := dbconfig.DefaultConfig()
	sc.DatabasePath = c.Path
	sc.MaxConnections = c.MaxConnections
	sc.WriteTimeout = c.Timeout
	return sc
}
