// Package watch provides a latest-value cell: one writer publishes values,
// any number of readers observe the most recent one without consuming a
// queued history.
package watch

import (
	"context"
	"sync"
)

// Cell holds the current value and a version counter bumped on every Set.
type Cell[T any] struct {
	mu      sync.RWMutex
	value   T
	version uint64
	changed chan struct{}
}

// NewCell creates a cell holding initial at version 0.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{value: initial, changed: make(chan struct{})}
}

// Set stores v and wakes every waiting receiver.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.value = v
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// Load returns the current value and its version.
func (c *Cell[T]) Load() (T, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.version
}

// Subscribe returns a receiver that considers the current value already seen.
func (c *Cell[T]) Subscribe() *Receiver[T] {
	_, version := c.Load()
	return &Receiver[T]{cell: c, seen: version}
}

// Receiver tracks the last version a single reader has observed.
// A Receiver is not safe for concurrent use; give each reader its own.
type Receiver[T any] struct {
	cell *Cell[T]
	seen uint64
}

// Changed blocks until the cell holds a version newer than the last one
// returned, then returns that value. Intermediate values may be skipped.
func (r *Receiver[T]) Changed(ctx context.Context) (T, error) {
	for {
		r.cell.mu.RLock()
		value, version, wait := r.cell.value, r.cell.version, r.cell.changed
		r.cell.mu.RUnlock()

		if version != r.seen {
			r.seen = version
			return value, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// Borrow returns the current value without marking it seen.
func (r *Receiver[T]) Borrow() T {
	v, _ := r.cell.Load()
	return v
}
