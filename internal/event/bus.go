package event

import (
	"fmt"
	"log/slog"
	"sync"
)

// Listener handles one event.
type Listener func(Event)

// Subscription identifies a registered listener. The zero value is inert.
type Subscription struct {
	bus *Bus
	typ Type
	id  uint64
}

// Unsubscribe removes the listener. It is safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.Off(s)
	}
}

type handler struct {
	id   uint64
	fn   Listener
	once bool
	dead bool
}

// Bus is a synchronous typed pub/sub for map events.
//
// Emit delivers to exactly the listeners registered for the event's type at
// the moment Emit is called: listeners added during delivery wait for the
// next Emit, listeners removed during delivery are skipped. A panicking
// listener is recovered and logged and does not affect its siblings.
type Bus struct {
	mu       sync.Mutex
	handlers map[Type][]*handler
	nextID   uint64
	logger   *slog.Logger
}

// NewBus creates an empty bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Type][]*handler),
		logger:   logger,
	}
}

// On registers fn for events of type t.
func (b *Bus) On(t Type, fn Listener) Subscription {
	return b.add(t, fn, false)
}

// Once registers fn for the next event of type t only.
func (b *Bus) Once(t Type, fn Listener) Subscription {
	return b.add(t, fn, true)
}

func (b *Bus) add(t Type, fn Listener, once bool) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[t] = append(b.handlers[t], &handler{id: b.nextID, fn: fn, once: once})
	return Subscription{bus: b, typ: t, id: b.nextID}
}

// Off removes the listener identified by s.
func (b *Bus) Off(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s.typ, s.id)
}

func (b *Bus) removeLocked(t Type, id uint64) {
	hs := b.handlers[t]
	for i, h := range hs {
		if h.id == id {
			h.dead = true
			b.handlers[t] = append(hs[:i:i], hs[i+1:]...)
			if len(b.handlers[t]) == 0 {
				delete(b.handlers, t)
			}
			return
		}
	}
}

// Emit delivers e synchronously.
func (b *Bus) Emit(e Event) {
	if e == nil {
		return
	}
	t := e.Type()

	b.mu.Lock()
	hs := append([]*handler(nil), b.handlers[t]...)
	b.mu.Unlock()

	for _, h := range hs {
		b.mu.Lock()
		if h.dead {
			b.mu.Unlock()
			continue
		}
		if h.once {
			b.removeLocked(t, h.id)
		}
		b.mu.Unlock()
		b.call(t, h, e)
	}
}

func (b *Bus) call(t Type, h *handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener failed",
				"component", "event",
				"op", "emit",
				"type", string(t),
				"listener", h.id,
				"error", fmt.Sprint(r),
			)
		}
	}()
	h.fn(e)
}

// Clear removes all listeners of the given types, or every listener when
// no type is given.
func (b *Bus) Clear(types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(types) == 0 {
		for _, hs := range b.handlers {
			for _, h := range hs {
				h.dead = true
			}
		}
		b.handlers = make(map[Type][]*handler)
		return
	}
	for _, t := range types {
		for _, h := range b.handlers[t] {
			h.dead = true
		}
		delete(b.handlers, t)
	}
}

// ListenerCount returns how many listeners are registered for t.
func (b *Bus) ListenerCount(t Type) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[t])
}

// Group collects subscriptions so a component can drop all of them at once
// when it detaches.
type Group struct {
	mu    sync.Mutex
	subs  []Subscription
	funcs []func()
}

// Add records subscriptions.
func (g *Group) Add(subs ...Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, subs...)
}

// AddFunc records arbitrary teardown functions, such as Store unsubscribers.
func (g *Group) AddFunc(fns ...func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.funcs = append(g.funcs, fns...)
}

// Close removes every recorded subscription and runs the teardown functions.
func (g *Group) Close() {
	g.mu.Lock()
	subs, funcs := g.subs, g.funcs
	g.subs, g.funcs = nil, nil
	g.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	for _, fn := range funcs {
		fn()
	}
}
