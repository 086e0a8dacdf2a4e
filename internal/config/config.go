// Package config loads the roomchat runtime configuration from the environment,
// applies defaults and validates the result.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers understood by StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

var (
	ErrMissingSecret      = errors.New("JWT_SECRET must be set")
	ErrUnknownStoreDriver = errors.New("unknown store driver")
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required for the postgres driver")
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"BURST" envDefault:"5"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1s"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver      string `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL string `env:"DATABASE_URL"`
	MaxConns    int32  `env:"PG_MAX_CONNS" envDefault:"10"`
	BadgerPath  string `env:"BADGER_PATH" envDefault:"data/badger"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Addr            string        `env:"SERVER_ADDR" envDefault:":8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	AllowedOrigins []string        `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	MaxMessageSize int64           `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	RateLimit      RateLimitConfig `envPrefix:"RATE_LIMIT_"`

	// MaxConnections caps live feeds across all rooms. Zero means unlimited.
	MaxConnections int `env:"MAX_CONNECTIONS" envDefault:"0"`
	// MailboxCapacity bounds each connection's mailbox (drop-oldest). Zero means unbounded.
	MailboxCapacity int           `env:"MAILBOX_CAPACITY" envDefault:"0"`
	SSEKeepAlive    time.Duration `env:"SSE_KEEPALIVE" envDefault:"15s"`
	SSERetry        time.Duration `env:"SSE_RETRY" envDefault:"3s"`
	HistoryLimit    int           `env:"HISTORY_LIMIT" envDefault:"0"`

	JWTSecret       string        `env:"JWT_SECRET"`
	TokenTTL        time.Duration `env:"JWT_TTL" envDefault:"30m"`
	GeneralChatName string        `env:"GENERAL_CHAT_NAME" envDefault:"General"`

	Store StoreConfig

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"http://localhost:8080"},
		MaxMessageSize:  4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SSEKeepAlive:    15 * time.Second,
		SSERetry:        3 * time.Second,
		TokenTTL:        30 * time.Minute,
		GeneralChatName: "General",
		Store: StoreConfig{
			Driver:     DriverMemory,
			MaxConns:   10,
			BadgerPath: "data/badger",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads an optional .env file, parses the environment and returns a
// sanitized, validated Config.
func Load() (Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg = Sanitize(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Sanitize replaces zero or negative values with their defaults.
func Sanitize(cfg Config) Config {
	def := Default()

	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.MaxConnections < 0 {
		cfg.MaxConnections = 0
	}
	if cfg.MailboxCapacity < 0 {
		cfg.MailboxCapacity = 0
	}
	if cfg.SSEKeepAlive <= 0 {
		cfg.SSEKeepAlive = def.SSEKeepAlive
	}
	if cfg.SSERetry < 0 {
		cfg.SSERetry = 0
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if strings.TrimSpace(cfg.GeneralChatName) == "" {
		cfg.GeneralChatName = def.GeneralChatName
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.MaxConns <= 0 {
		cfg.Store.MaxConns = def.Store.MaxConns
	}
	if cfg.Store.BadgerPath == "" {
		cfg.Store.BadgerPath = def.Store.BadgerPath
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins

	return cfg
}

// Validate reports settings that cannot be defaulted.
func (c Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return ErrMissingSecret
	}
	switch c.Store.Driver {
	case DriverMemory, DriverBadger:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStoreDriver, c.Store.Driver)
	}
	return nil
}
