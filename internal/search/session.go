package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/paulmach/orb/geojson"
)

// ErrStale is returned for a result superseded by a newer search or
// arriving after the session was closed.
var ErrStale = errors.New("search: stale result")

// Session serializes what a search box sees: only the newest request's
// result is delivered. Older requests run to completion and are dropped.
type Session struct {
	provider Provider
	logger   *slog.Logger

	mu     sync.Mutex
	gen    uint64
	closed bool
	wg     sync.WaitGroup
}

// NewSession wraps provider.
func NewSession(provider Provider, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{provider: provider, logger: logger.With("component", "search")}
}

func (s *Session) begin() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false
	}
	s.gen++
	return s.gen, true
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

// Search runs q and returns ErrStale when a newer search started or the
// session closed while it ran.
func (s *Session) Search(ctx context.Context, q Query) (*geojson.FeatureCollection, error) {
	gen, ok := s.begin()
	if !ok {
		return nil, ErrStale
	}
	fc, err := s.provider.Search(ctx, q)
	if !s.current(gen) {
		s.logger.Debug("discarding stale search result", "op", "search", "query", q.Text, "generation", gen)
		return nil, ErrStale
	}
	return fc, err
}

// Submit runs q in the background and calls fn with the result unless it
// went stale. fn is never called after Close returns and must not call
// back into the session.
func (s *Session) Submit(ctx context.Context, q Query, fn func(*geojson.FeatureCollection, error)) {
	gen, ok := s.begin()
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fc, err := s.provider.Search(ctx, q)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.gen {
			s.logger.Debug("discarding stale search result", "op", "submit", "query", q.Text, "generation", gen)
			return
		}
		fn(fc, err)
	}()
}

// Close detaches the session. Pending results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Wait blocks until background searches have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}
