package tools

import (
	"fmt"
	"log/slog"
	"sync"
)

// Shared is a reference-counted registry of resources keyed by host map.
// The first Acquire for a key creates the value, the last Release tears it
// down. It replaces per-type static state: one Shared is created at startup
// and injected into every tool that needs it.
type Shared[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*sharedEntry[V]
	create   func(K) (V, error)
	teardown func(K, V)
	logger   *slog.Logger
}

type sharedEntry[V any] struct {
	value V
	refs  int
}

// NewShared returns a registry that builds values with create and releases
// them with teardown. teardown may be nil.
func NewShared[K comparable, V any](create func(K) (V, error), teardown func(K, V), logger *slog.Logger) *Shared[K, V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shared[K, V]{
		entries:  make(map[K]*sharedEntry[V]),
		create:   create,
		teardown: teardown,
		logger:   logger,
	}
}

// Acquire returns the value for key, creating it on first use.
func (s *Shared[K, V]) Acquire(key K) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.refs++
		return e.value, nil
	}
	v, err := s.create(key)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("acquire shared %v: %w", key, err)
	}
	s.entries[key] = &sharedEntry[V]{value: v, refs: 1}
	return v, nil
}

// Release drops one reference to key. The teardown runs when the count
// reaches zero. Releasing an unknown key is logged and ignored.
func (s *Shared[K, V]) Release(key K) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("release of unknown shared key", "component", "tools", "op", "release", "key", fmt.Sprint(key))
		return
	}
	e.refs--
	if e.refs > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()
	if s.teardown != nil {
		s.teardown(key, e.value)
	}
}

// Refs returns the current reference count for key.
func (s *Shared[K, V]) Refs(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of live entries.
func (s *Shared[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
