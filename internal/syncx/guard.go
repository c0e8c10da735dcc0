// Package syncx provides guarded shared state.
package syncx

import "sync"

// RWGuard holds a value behind a RWMutex. Readers may run long operations
// against the value while holding the read side; writers wait for them.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// View executes fn while holding the read lock and returns its results.
func View[T, R any](g *RWGuard[T], fn func(T) (R, error)) (R, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.value)
}

// Modify executes fn while holding the write lock. fn may leave the value
// partially changed when it fails; callers stage changes and commit last.
func Modify[T any](g *RWGuard[T], fn func(*T) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&g.value)
}
