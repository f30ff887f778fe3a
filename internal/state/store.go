package state

import (
	"fmt"
	"log/slog"
	"sync"
)

// Listener receives a private snapshot of the state after a dispatch, along
// with the cause of that dispatch.
type Listener func(s AppState, c Cause)

type subscriber struct {
	id      uint64
	fn      Listener
	removed bool
}

type notification struct {
	snapshot AppState
	cause    Cause
}

// Store holds the canonical AppState and notifies subscribers of changes.
//
// Dispatches issued from inside a listener are merged immediately (State
// reflects them) but their notification is queued behind the notification
// currently being delivered, so every listener observes dispatches strictly
// in order.
type Store struct {
	mu        sync.Mutex
	current   AppState
	subs      []*subscriber
	nextID    uint64
	queue     []notification
	notifying bool
	logger    *slog.Logger
}

// New creates a Store seeded with initial. A nil logger uses slog.Default().
func New(initial AppState, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		current: initial.Clone(),
		logger:  logger,
	}
}

// State returns a snapshot of the current state.
func (s *Store) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Dispatch merges p into the current state and notifies subscribers.
func (s *Store) Dispatch(p Patch, src Source) {
	s.DispatchAs(p, src, "")
}

// DispatchAs is Dispatch with the writing actor recorded in the Cause.
func (s *Store) DispatchAs(p Patch, src Source, actor string) {
	s.mu.Lock()
	s.current = p.apply(s.current)
	s.queue = append(s.queue, notification{snapshot: s.current.Clone(), cause: Cause{Source: src, Actor: actor}})
	if s.notifying {
		s.mu.Unlock()
		return
	}
	s.notifying = true
	s.drainLocked()
}

// drainLocked delivers queued notifications in FIFO order. It is entered
// with s.mu held and returns with it released.
func (s *Store) drainLocked() {
	for len(s.queue) > 0 {
		n := s.queue[0]
		s.queue = s.queue[1:]
		subs := append([]*subscriber(nil), s.subs...)
		s.mu.Unlock()

		for _, sub := range subs {
			s.mu.Lock()
			removed := sub.removed
			s.mu.Unlock()
			if removed {
				continue
			}
			s.call(sub, n)
		}

		s.mu.Lock()
	}
	s.notifying = false
	s.mu.Unlock()
}

func (s *Store) call(sub *subscriber, n notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state listener failed",
				"component", "state",
				"op", "notify",
				"subscriber", sub.id,
				"source", string(n.cause.Source),
				"error", fmt.Sprint(r),
			)
		}
	}()
	sub.fn(n.snapshot.Clone(), n.cause)
}

// Subscribe registers l and returns a function that removes it. The returned
// function is idempotent; after it returns, l is never called again.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &subscriber{id: s.nextID, fn: l}
	s.subs = append(s.subs, sub)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub.removed {
			return
		}
		sub.removed = true
		for i, cur := range s.subs {
			if cur == sub {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				break
			}
		}
	}
}

// SubscriberCount returns the number of registered listeners.
func (s *Store) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Origin tags UI writes with an actor name so the writer can recognise its
// own echoes. See the package documentation for the full contract.
type Origin struct {
	Actor string
}

// Dispatch writes p to store as a UI change attributed to o.
func (o Origin) Dispatch(store *Store, p Patch) {
	store.DispatchAs(p, SourceUI, o.Actor)
}

// Echo reports whether c is a UI change written by o.
func (o Origin) Echo(c Cause) bool {
	return c.Source == SourceUI && c.Actor == o.Actor && o.Actor != ""
}
