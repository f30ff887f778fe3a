// Package registry maps engine names to adapter factories.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/engine/cesium"
	"github.com/MeKo-Tech/mapbridge/internal/engine/leaflet"
	"github.com/MeKo-Tech/mapbridge/internal/engine/maplibre"
	"github.com/MeKo-Tech/mapbridge/internal/engine/openlayers"
)

// DefaultEngine is used when nothing else selects an engine.
const DefaultEngine = "maplibre"

// ErrUnknownEngine is the result of building a name nobody registered.
var ErrUnknownEngine = errors.New("registry: unknown engine")

// Registry holds factories under case-insensitive names.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]engine.Factory
	logger    *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factories: make(map[string]engine.Factory),
		logger:    logger.With("component", "registry"),
	}
}

// Default returns a registry with the four bundled engines backed by their
// headless natives.
func Default(logger *slog.Logger) *Registry {
	r := New(logger)
	r.Register("maplibre", maplibre.NewFactory(nil))
	r.Register("openlayers", openlayers.NewFactory(nil))
	r.Register("leaflet", leaflet.NewFactory(nil))
	r.Register("cesium", cesium.NewFactory(nil))
	return r
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f engine.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key(name)] = f
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[key(name)]
	return ok
}

// Names returns the registered keys, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build starts the factory for name in the background. An unknown name
// never panics; the returned Pending resolves to ErrUnknownEngine.
func (r *Registry) Build(ctx context.Context, name string, deps engine.Deps) *Pending {
	p := newPending(key(name))

	r.mu.RLock()
	f, ok := r.factories[p.name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("unknown engine", "op", "build", "engine", name, "known", r.Names())
		p.resolve(nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name))
		return p
	}

	go func() {
		a, err := f(ctx, deps)
		if err != nil {
			r.logger.Error("engine factory failed", "op", "build", "engine", p.name, "error", err)
		} else {
			r.logger.Debug("engine ready", "op", "build", "engine", p.name)
		}
		p.resolve(a, err)
	}()
	return p
}

// Pending is an adapter that is still being built. It moves once from
// pending to ready; after Ready is closed Adapter and Err are fixed.
type Pending struct {
	name  string
	ready chan struct{}

	mu      sync.Mutex
	adapter engine.Adapter
	err     error
}

func newPending(name string) *Pending {
	return &Pending{name: name, ready: make(chan struct{})}
}

func (p *Pending) resolve(a engine.Adapter, err error) {
	p.mu.Lock()
	p.adapter, p.err = a, err
	p.mu.Unlock()
	close(p.ready)
}

// Name is the normalized engine key.
func (p *Pending) Name() string { return p.name }

// Ready is closed once the factory has returned.
func (p *Pending) Ready() <-chan struct{} { return p.ready }

// Adapter returns the built adapter, or nil while pending or on failure.
func (p *Pending) Adapter() engine.Adapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adapter
}

// Err returns the factory error, or nil while pending.
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until the adapter is ready or ctx is done.
func (p *Pending) Wait(ctx context.Context) (engine.Adapter, error) {
	select {
	case <-p.ready:
		return p.Adapter(), p.Err()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
