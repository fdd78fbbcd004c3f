// Package store persists chat messages and the user profiles used to enrich
// them. SQLite is the default backend, PostgreSQL is available for shared
// deployments, and an in-memory store backs tests and throwaway servers.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/projectchat/internal/chat"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = fmt.Errorf("store: %w", chat.ErrNotFound)

// Store is a chat.Store that also manages its schema and user profiles.
type Store interface {
	chat.Store
	UpsertUser(ctx context.Context, user chat.Sender) error
	Migrate(ctx context.Context) error
	Close() error
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config selects and tunes a backend.
type Config struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig stores messages in a local SQLite file.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		DSN:             "projectchat.db",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Open connects to the configured backend and creates its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch normalizeDriver(cfg.Driver) {
	case DriverMemory:
		s = NewMemoryStore()
	case DriverSQLite:
		s, err = openSQLite(ctx, cfg)
	case DriverPostgres:
		s, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pg":
		return DriverPostgres
	case "memory", "mem":
		return DriverMemory
	default:
		return driver
	}
}
