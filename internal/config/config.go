// Package config loads cachekit runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/IvanBrykalov/cachekit/internal/logger"
)

// ErrParsingConfig is returned when environment variables cannot be parsed.
var ErrParsingConfig = errors.New("config: failed to parse environment")

// Config holds tunables shared by the cache, batching and metrics layers.
type Config struct {
	LogLevel  string `env:"CACHEKIT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CACHEKIT_LOG_FORMAT" envDefault:"text"`

	CacheMaxSize         int           `env:"CACHEKIT_CACHE_MAX_SIZE" envDefault:"1000"`
	CacheDefaultTTL      time.Duration `env:"CACHEKIT_CACHE_DEFAULT_TTL" envDefault:"5m"`
	CacheCleanupInterval time.Duration `env:"CACHEKIT_CACHE_CLEANUP_INTERVAL" envDefault:"1m"`

	BatchSize  int           `env:"CACHEKIT_BATCH_SIZE" envDefault:"10"`
	BatchDelay time.Duration `env:"CACHEKIT_BATCH_DELAY" envDefault:"100ms"`

	MetricsAddr string `env:"CACHEKIT_METRICS_ADDR" envDefault:":8080"`
}

// Load reads the optional dotenv files (default ".env") and parses the
// environment into a Config. Missing dotenv files are not an error.
func Load(files ...string) (Config, error) {
	// godotenv never overrides variables that are already set.
	_ = godotenv.Load(files...)

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	if cfg.CacheMaxSize <= 0 {
		return Config{}, fmt.Errorf("%w: CACHEKIT_CACHE_MAX_SIZE must be > 0", ErrParsingConfig)
	}
	if cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("%w: CACHEKIT_BATCH_SIZE must be > 0", ErrParsingConfig)
	}
	return cfg, nil
}

// Logger builds the process logger described by the config.
func (c Config) Logger() *slog.Logger {
	return logger.New(logger.Options{
		Format: logger.Format(c.LogFormat),
		Level:  logger.ParseLevel(c.LogLevel),
	})
}
