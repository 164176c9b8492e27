// Package visited tracks the coordinate keys already sampled.
//
// The set only grows. Reserve is insert-returns-false-if-present, so two
// callers can never both reserve the same key. The local set keeps every key
// in memory and writes new keys to a Backend on Flush; the Redis set writes
// through on every Reserve.
package visited

import (
	"context"
	"fmt"
	"sync"
)

// Set is the visited coordinate set.
type Set interface {
	// Reserve inserts key and reports whether it was absent.
	Reserve(ctx context.Context, key string) (bool, error)
	Contains(ctx context.Context, key string) (bool, error)
	Len(ctx context.Context) (int64, error)
	// Flush persists keys reserved since the last flush.
	Flush(ctx context.Context) error
}

// Backend is the durable store behind a Local set.
type Backend interface {
	AddVisited(ctx context.Context, keys []string) error
	LoadVisited(ctx context.Context, fn func(key string)) error
}

// Local is an in-memory set with periodic write-behind to a Backend.
type Local struct {
	backend Backend

	mu      sync.Mutex
	keys    map[string]struct{}
	pending []string
}

// NewLocal loads every key from backend. A nil backend gives a purely
// in-memory set.
func NewLocal(ctx context.Context, backend Backend) (*Local, error) {
	l := &Local{backend: backend, keys: make(map[string]struct{})}
	if backend == nil {
		return l, nil
	}
	err := backend.LoadVisited(ctx, func(k string) {
		l.keys[k] = struct{}{}
	})
	if err != nil {
		return nil, fmt.Errorf("visited: load: %w", err)
	}
	return l, nil
}

// Reserve implements Set.
func (l *Local) Reserve(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.keys[key]; ok {
		return false, nil
	}
	l.keys[key] = struct{}{}
	l.pending = append(l.pending, key)
	return true, nil
}

// Contains implements Set.
func (l *Local) Contains(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key]
	return ok, nil
}

// Len implements Set.
func (l *Local) Len(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.keys)), nil
}

// Pending returns the number of keys not yet flushed.
func (l *Local) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Flush implements Set. The pending batch is swapped out under the lock and
// written without it; on failure it is put back for the next flush.
func (l *Local) Flush(ctx context.Context) error {
	if l.backend == nil {
		return nil
	}
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := l.backend.AddVisited(ctx, batch); err != nil {
		l.mu.Lock()
		l.pending = append(batch, l.pending...)
		l.mu.Unlock()
		return fmt.Errorf("visited: flush %d keys: %w", len(batch), err)
	}
	return nil
}
