// Package config holds the feed service settings read from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/example/feed-platform/services/feed/internal/store"
)

const (
	StoreMemory   = store.BackendMemory
	StorePostgres = store.BackendPostgres
	StoreSQLite   = store.BackendSQLite
)

type Config struct {
	Env         string `envconfig:"APP_ENV" default:"development"`
	Store       string `envconfig:"FEED_STORE"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"feed.db"`
	JWTSecret   string `envconfig:"JWT_SECRET"`

	AllowSelfLikes    bool `envconfig:"FEED_ALLOW_SELF_LIKES" default:"true"`
	ToggleMaxAttempts int  `envconfig:"FEED_TOGGLE_MAX_ATTEMPTS" default:"3"`

	LeaderboardWindow time.Duration `envconfig:"LEADERBOARD_WINDOW" default:"24h"`
	LeaderboardLimit  int           `envconfig:"LEADERBOARD_LIMIT" default:"5"`

	// ReconcileSchedule is a cron spec; empty disables the job.
	ReconcileSchedule string `envconfig:"RECONCILE_SCHEDULE"`

	IdempotencyTTL      time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
	IdempotencyCapacity int           `envconfig:"IDEMPOTENCY_CAPACITY" default:"10000"`

	RedisURL    string   `envconfig:"REDIS_URL"`
	NatsURL     string   `envconfig:"NATS_URL"`
	CORSOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
}

// Load reads the environment. FEED_STORE defaults to postgres when
// DATABASE_URL is set and to memory otherwise.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process env config: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.Store == "" {
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			cfg.Store = StorePostgres
		} else {
			cfg.Store = StoreMemory
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown FEED_STORE %q", c.Store)
	}
	if c.IsProduction() {
		// Both serialise every transaction through one lock or connection.
		if c.Store == StoreMemory || c.Store == StoreSQLite {
			return fmt.Errorf("%s store is not allowed in production", c.Store)
		}
		if strings.TrimSpace(c.JWTSecret) == "" {
			return errors.New("JWT_SECRET is required in production")
		}
	}
	if c.ToggleMaxAttempts < 1 || c.ToggleMaxAttempts > 3 {
		return fmt.Errorf("FEED_TOGGLE_MAX_ATTEMPTS must be between 1 and 3, got %d", c.ToggleMaxAttempts)
	}
	if c.LeaderboardWindow <= 0 || c.LeaderboardLimit <= 0 {
		return errors.New("LEADERBOARD_WINDOW and LEADERBOARD_LIMIT must be positive")
	}
	return nil
}
