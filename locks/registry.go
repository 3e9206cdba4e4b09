// Package locks provides per-key mutual exclusion with bounded waits.
package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned when a lock could not be acquired within the timeout.
var ErrTimeout = errors.New("lock acquisition timed out")

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Registry hands out one exclusive lock per key. Entries exist only while a
// holder or waiter references them.
type Registry[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

// New creates an empty registry.
func New[K comparable]() *Registry[K] {
	return &Registry[K]{entries: make(map[K]*entry)}
}

// WithLock runs fn while holding the lock for key. Waiting is bounded by
// timeout (when positive) and ctx. The lock is released on every exit path,
// including a panic in fn.
func (r *Registry[K]) WithLock(ctx context.Context, key K, timeout time.Duration, fn func() error) error {
	e := r.ref(key)
	defer r.unref(key, e)

	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("lock %v: %w", key, ctx.Err())
		}
		return fmt.Errorf("lock %v after %v: %w", key, timeout, ErrTimeout)
	}
	defer e.sem.Release(1)
	return fn()
}

// Len reports how many keys currently have an entry.
func (r *Registry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry[K]) ref(key K) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		r.entries[key] = e
	}
	e.refs++
	return e
}

func (r *Registry[K]) unref(key K, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, key)
	}
}
