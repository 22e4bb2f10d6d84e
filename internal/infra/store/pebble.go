package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

const pebbleKeyPrefix = "doc/"

// PebbleBackend keeps documents as values in an embedded Pebble database.
type PebbleBackend struct {
	db *pebble.DB
}

// OpenPebbleBackend opens (or creates) the database at path.
func OpenPebbleBackend(path string) (*PebbleBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleBackend{db: db}, nil
}

func (b *PebbleBackend) Load(_ context.Context, name string) ([]byte, error) {
	v, closer, err := b.db.Get([]byte(pebbleKeyPrefix + name))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b *PebbleBackend) Save(_ context.Context, name string, data []byte) error {
	return b.db.Set([]byte(pebbleKeyPrefix+name), data, pebble.Sync)
}

func (b *PebbleBackend) Close() error {
	return b.db.Close()
}
