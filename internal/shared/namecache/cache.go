// Package namecache resolves platform user identifiers to display names
// with a cache-aside LRU. Concurrent misses for the same key share a single
// upstream lookup.
package namecache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const defaultSize = 512

// LookupFunc fetches the display name for key from the platform.
type LookupFunc func(ctx context.Context, key string) (string, error)

// Cache is safe for concurrent use.
type Cache struct {
	entries *lru.Cache[string, string]
	group   singleflight.Group
	lookup  LookupFunc
}

// New builds a cache holding at most size names.
func New(size int, lookup LookupFunc) (*Cache, error) {
	if lookup == nil {
		return nil, fmt.Errorf("namecache: lookup func is required")
	}
	if size <= 0 {
		size = defaultSize
	}
	entries, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("namecache: %w", err)
	}
	return &Cache{entries: entries, lookup: lookup}, nil
}

// Resolve returns the cached name for key, fetching it on a miss. Failed
// lookups are not cached.
func (c *Cache) Resolve(ctx context.Context, key string) (string, error) {
	if name, ok := c.entries.Get(key); ok {
		return name, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if name, ok := c.entries.Get(key); ok {
			return name, nil
		}
		// The flight outlives any single caller's cancellation.
		name, err := c.lookup(context.WithoutCancel(ctx), key)
		if err != nil {
			return "", err
		}
		c.entries.Add(key, name)
		return name, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Forget drops key so the next Resolve fetches it again.
func (c *Cache) Forget(key string) {
	c.entries.Remove(key)
}

// Len reports the number of cached names.
func (c *Cache) Len() int {
	return c.entries.Len()
}
