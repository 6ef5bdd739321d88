// Package config loads the service configuration from environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime configuration for the API server and the
// orphan worker.
type Config struct {
	Addr    string `env:"GROUPCORE_ADDR" envDefault:":8080"`
	PGDSN   string `env:"GROUPCORE_PG_DSN"`
	Version string `env:"GROUPCORE_VERSION" envDefault:"dev"`

	DeleteOrphans       bool          `env:"GROUPCORE_DELETE_ORPHANS" envDefault:"true"`
	OrphanStrategy      string        `env:"GROUPCORE_ORPHAN_STRATEGY" envDefault:"queue"`
	OrphanQueueCapacity int           `env:"GROUPCORE_ORPHAN_QUEUE_CAPACITY" envDefault:"1024"`
	OrphanChunkSize     int           `env:"GROUPCORE_ORPHAN_CHUNK_SIZE" envDefault:"10"`
	WorkerInterval      time.Duration `env:"GROUPCORE_WORKER_INTERVAL" envDefault:"30s"`

	StrictTypes []string `env:"GROUPCORE_STRICT_TYPES" envSeparator:","`
	DefaultRole string   `env:"GROUPCORE_DEFAULT_ROLE" envDefault:"member"`

	RateLimitRPS   float64 `env:"GROUPCORE_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"GROUPCORE_RATE_LIMIT_BURST" envDefault:"100"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("config: addr is required")
	}
	if c.OrphanQueueCapacity <= 0 {
		return fmt.Errorf("config: orphan queue capacity must be positive")
	}
	if c.OrphanChunkSize <= 0 {
		return fmt.Errorf("config: orphan chunk size must be positive")
	}
	if c.WorkerInterval <= 0 {
		return fmt.Errorf("config: worker interval must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit settings must be positive")
	}
	return nil
}
