// Package config loads the gateway configuration from YAML with environment
// variable placeholders.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/luciancaetano/frost/internal/storage"
)

type (
	// Config is the root of frost.yaml.
	Config struct {
		Server    ServerConfig    `yaml:"server"`
		RateLimit RateLimitConfig `yaml:"rate_limit"`
		Storage   StorageConfig   `yaml:"storage"`
		Auth      AuthConfig      `yaml:"auth"`
		Messages  MessagesConfig  `yaml:"messages"`
		Logger    LoggerConfig    `yaml:"logger"`
		Metrics   MetricsConfig   `yaml:"metrics"`
	}

	// ServerConfig configures the listeners.
	ServerConfig struct {
		Addr            string        `yaml:"addr"`             // TCP listener, e.g. ":7000"
		HTTPAddr        string        `yaml:"http_addr"`        // WebSocket, health and metrics; empty disables
		MaxFrameSize    uint32        `yaml:"max_frame_size"`   // bytes
		SendBuffer      int           `yaml:"send_buffer"`      // queued frames per connection
		WriteTimeout    time.Duration `yaml:"write_timeout"`    // per frame
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // graceful stop budget
		AllowedOrigins  []string      `yaml:"allowed_origins"`  // WebSocket origins; empty allows all
	}

	// RateLimitConfig configures the per-connection request limiter.
	RateLimitConfig struct {
		Enabled           bool    `yaml:"enabled"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	}

	// StorageConfig selects where users, rooms and messages live.
	StorageConfig struct {
		Type     string         `yaml:"type"` // memory or database
		Database DatabaseConfig `yaml:"database"`
	}

	// DatabaseConfig is used when storage type is database.
	DatabaseConfig struct {
		Type string `yaml:"type"` // sqlite, mysql or postgres
		DSN  string `yaml:"dsn"`
	}

	AuthConfig struct {
		BcryptCost int `yaml:"bcrypt_cost"`
	}

	MessagesConfig struct {
		DefaultHistory int `yaml:"default_history"`
		MaxHistory     int `yaml:"max_history"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`
		Color      bool   `yaml:"color"` // console format only
		Stacktrace bool   `yaml:"stacktrace"`
		TimeZone   string `yaml:"time_zone"`
		TimeFormat string `yaml:"time_format"`
	}

	// MetricsConfig exposes prometheus metrics on the HTTP listener.
	MetricsConfig struct {
		Enabled   bool   `yaml:"enabled"`
		Namespace string `yaml:"namespace"`
		Path      string `yaml:"path"`
	}
)

const (
	StorageMemory   = "memory"
	StorageDatabase = "database"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":7000",
			HTTPAddr:        ":7080",
			MaxFrameSize:    1 << 20,
			SendBuffer:      256,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			MessagesPerSecond: 100,
			Burst:             200,
		},
		Storage: StorageConfig{
			Type: StorageMemory,
			Database: DatabaseConfig{
				Type: string(storage.SQLite),
				DSN:  "frost.db",
			},
		},
		Auth: AuthConfig{BcryptCost: 10},
		Messages: MessagesConfig{
			DefaultHistory: 250,
			MaxHistory:     1000,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "frost",
			Path:      "/metrics",
		},
	}
}

// Load reads the YAML file at path on top of Default. A .env file in the
// working directory, when present, is loaded first so placeholders can use it.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	data = resolveEnv(data)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// resolveEnv replaces ${VAR} and ${VAR:default} placeholders.
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		m := envPattern.FindSubmatch(match)
		if value, ok := os.LookupEnv(string(m[1])); ok {
			return []byte(value)
		}
		return m[2]
	})
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Addr == "" {
		fail("server.addr is required")
	}
	if c.Server.MaxFrameSize == 0 {
		fail("server.max_frame_size must be positive")
	}
	if c.Server.SendBuffer <= 0 {
		fail("server.send_buffer must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		fail("server.shutdown_timeout must be positive")
	}

	if c.RateLimit.Enabled && (c.RateLimit.MessagesPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		fail("rate_limit needs positive messages_per_second and burst")
	}

	switch strings.ToLower(c.Storage.Type) {
	case StorageMemory:
	case StorageDatabase:
		if _, err := storage.ParseDatabaseType(c.Storage.Database.Type); err != nil {
			fail("storage.database.type: %v", err)
		}
		if c.Storage.Database.DSN == "" {
			fail("storage.database.dsn is required")
		}
	default:
		fail("storage.type %q is not memory or database", c.Storage.Type)
	}

	if c.Messages.DefaultHistory <= 0 || c.Messages.MaxHistory <= 0 {
		fail("messages history sizes must be positive")
	} else if c.Messages.DefaultHistory > c.Messages.MaxHistory {
		fail("messages.default_history exceeds messages.max_history")
	}

	if c.Metrics.Enabled {
		if c.Server.HTTPAddr == "" {
			fail("metrics need server.http_addr")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			fail("metrics.path must start with /")
		}
	}

	return errors.Join(errs...)
}
