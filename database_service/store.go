package database_service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("record not found")

// Store keeps named opaque records. The bot only ever needs three of them, so
// a store is a key-value blob table and nothing more.
type Store interface {
	// Get returns ErrNotFound when nothing was saved under name yet.
	Get(ctx context.Context, name string) ([]byte, error)
	// Put replaces the record. actor is recorded where the driver supports it.
	Put(ctx context.Context, actor string, name string, payload []byte) error
	Close() error
	Name() string
}

// Config selects and parameterises a driver.
type Config struct {
	Driver      string
	DatabaseURL string
	DataDir     string
	MaxConns    int32
}

// Open builds the configured driver and prepares it for use.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "postgresql", "pg":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("database url required for postgres driver")
		}
		return Connect(ctx, cfg.DatabaseURL, cfg.MaxConns)
	case "sqlite":
		return OpenSQLite(ctx, cfg.DataDir)
	case "json", "":
		return OpenJSON(cfg.DataDir)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
