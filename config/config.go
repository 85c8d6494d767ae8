// Package config provides runtime configuration loaded from PEERRPC_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config holds the tunables of a peer process.
type Config struct {
	// Serving
	ListenAddr    string `envconfig:"PEERRPC_LISTEN_ADDR" default:":9300"`
	AdvertiseAddr string `envconfig:"PEERRPC_ADVERTISE_ADDR"`
	ServiceName   string `envconfig:"PEERRPC_SERVICE_NAME" default:"peerrpc"`

	// Discovery (empty = no etcd, Pool.Get by endpoint only)
	EtcdEndpoints []string `envconfig:"PEERRPC_ETCD_ENDPOINTS"`
	RegisterTTL   int64    `envconfig:"PEERRPC_REGISTER_TTL" default:"10"`

	// Connections
	ReadBufferSize int           `envconfig:"PEERRPC_READ_BUFFER_SIZE" default:"4096"`
	DialTimeout    time.Duration `envconfig:"PEERRPC_DIAL_TIMEOUT" default:"5s"`
	CallTimeout    time.Duration `envconfig:"PEERRPC_CALL_TIMEOUT" default:"30s"`

	// Dispatch limits (0 = disabled; unbounded dispatch is the default)
	RateLimit   float64 `envconfig:"PEERRPC_RATE_LIMIT"`
	RateBurst   int     `envconfig:"PEERRPC_RATE_BURST" default:"64"`
	MaxInFlight int     `envconfig:"PEERRPC_MAX_IN_FLIGHT"`

	// Logging
	LogLevel string `envconfig:"PEERRPC_LOG_LEVEL" default:"info"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks invariants that envconfig cannot express.
func (c *Config) Validate() error {
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("config: PEERRPC_READ_BUFFER_SIZE must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: PEERRPC_RATE_LIMIT must not be negative")
	}
	if c.MaxInFlight < 0 {
		return fmt.Errorf("config: PEERRPC_MAX_IN_FLIGHT must not be negative")
	}
	if len(c.EtcdEndpoints) > 0 && c.AdvertiseAddr == "" {
		return fmt.Errorf("config: PEERRPC_ADVERTISE_ADDR is required when etcd discovery is enabled")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: bad PEERRPC_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return nil
}

// Logger builds a stderr logger at the configured level.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
