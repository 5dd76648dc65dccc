package knowledge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SQLiteConfig holds settings for the SQLite knowledge backend
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// Config selects and configures the knowledge backend
type Config struct {
	Backend string        `mapstructure:"backend"`
	Service ServiceConfig `mapstructure:"service"`
	Redis   RedisConfig   `mapstructure:"redis"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
}

// New builds the store named by cfg.Backend. SQLite is the default so a
// bare config still yields a working single-node setup.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "redis":
		return NewRedisStore(cfg.Redis, logger)
	case "service":
		if cfg.Service.BaseURL == "" {
			return nil, errors.New("knowledge: service backend requires base_url")
		}
		return NewServiceStore(cfg.Service, logger), nil
	default:
		return nil, fmt.Errorf("knowledge: unknown backend %q", cfg.Backend)
	}
}
