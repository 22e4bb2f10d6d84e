// Package store persists the agenda and the reminder records as whole JSON
// documents. Every write replaces the full document; there are no partial
// updates.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agendabot/internal/infra/filestore"
)

// ErrNotFound is returned by a Backend when a document has never been
// written.
var ErrNotFound = errors.New("document not found")

// Backend stores opaque documents by name.
type Backend interface {
	// Load returns the document bytes or ErrNotFound.
	Load(ctx context.Context, name string) ([]byte, error)
	// Save atomically replaces the document.
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}

// Kind selects a backend implementation.
type Kind string

const (
	KindFile     Kind = "file"
	KindPebble   Kind = "pebble"
	KindPostgres Kind = "postgres"
)

// Config selects and configures the backend.
type Config struct {
	Backend Kind   `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	DSN     string `mapstructure:"dsn"`
}

// Open constructs the configured backend. Postgres backends have their
// schema ensured before returning.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(string(cfg.Backend))))
	switch kind {
	case "", KindFile:
		return NewFileBackend(filestore.ResolvePath(cfg.Dir, "."))
	case KindPebble:
		return OpenPebbleBackend(filestore.ResolvePath(cfg.Dir, "."))
	case KindPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("postgres backend requires a dsn")
		}
		return OpenPostgresBackend(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
