// Package config loads the caldavd configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Validation errors returned by Load.
var (
	ErrInvalidServerConfig  = errors.New("invalid server configuration")
	ErrInvalidStorageConfig = errors.New("invalid storage configuration")
	ErrInvalidLogConfig     = errors.New("invalid log configuration")
	ErrInvalidUsers         = errors.New("invalid users")
)

// Config is the daemon configuration.
//
// Env: CALDORA_SERVER_*, CALDORA_STORAGE_*, CALDORA_LOG_*, CALDORA_USERS.
type Config struct {
	Server  Server  `envPrefix:"SERVER_"`
	Storage Storage `envPrefix:"STORAGE_"`
	Log     Log     `envPrefix:"LOG_"`

	// Users lists the accounts as "name:password" pairs separated by commas.
	Users map[string]string `env:"USERS" envSeparator:"," envKeyValSeparator:":"`
}

// Server holds the HTTP settings.
type Server struct {
	Address  string `env:"ADDRESS" envDefault:":8080"`
	Prefix   string `env:"PREFIX" envDefault:"/caldav/"`
	Realm    string `env:"REALM" envDefault:"caldora"`
	MaxDepth int    `env:"MAX_DEPTH" envDefault:"1"`
}

// Storage selects and configures the backend.
type Storage struct {
	Backend   string `env:"BACKEND" envDefault:"memory"`
	// DSN is the PostgreSQL connection string, required by the postgres backend.
	DSN       string `env:"DSN"`
	// ResultCap bounds the change pages the backend returns. 0 keeps the backend default.
	ResultCap int    `env:"RESULT_CAP" envDefault:"0"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "CALDORA_"}); err != nil {
		return nil, fmt.Errorf("error getting env configs: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SlogLevel returns the configured log level.
func (l Log) SlogLevel() slog.Level {
	var level slog.Level
	// validate has rejected unknown names
	_ = level.UnmarshalText([]byte(l.Level))
	return level
}

func (cfg *Config) validate() error {
	if cfg.Server.Address == "" || !strings.HasPrefix(cfg.Server.Prefix, "/") || cfg.Server.MaxDepth < 0 {
		return ErrInvalidServerConfig
	}

	switch cfg.Storage.Backend {
	case StoreMemory:
	case StorePostgres:
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("%w: postgres backend needs a DSN", ErrInvalidStorageConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidStorageConfig, cfg.Storage.Backend)
	}
	if cfg.Storage.ResultCap < 0 {
		return fmt.Errorf("%w: negative result cap", ErrInvalidStorageConfig)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLogConfig, err)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("%w: unknown format %q", ErrInvalidLogConfig, cfg.Log.Format)
	}

	for name, password := range cfg.Users {
		if name == "" || password == "" {
			return fmt.Errorf("%w: empty name or password", ErrInvalidUsers)
		}
	}
	return nil
}
