package engine

import (
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/event"
	"github.com/MeKo-Tech/mapbridge/internal/state"
)

// Base is the Adapter every engine package returns: a Normalizer for the
// camera, a LayerService for the catalog and the shared store and bus.
type Base struct {
	core     *Normalizer
	layers   LayerService
	store    *state.Store
	bus      *event.Bus
	teardown []func()
	once     sync.Once
}

var _ Adapter = (*Base)(nil)

// NewAdapter assembles an adapter. teardown functions run before the
// normalizer is destroyed.
func NewAdapter(core *Normalizer, layers LayerService, deps Deps, teardown ...func()) *Base {
	deps = deps.WithDefaults()
	return &Base{
		core:     core,
		layers:   layers,
		store:    deps.Store,
		bus:      deps.Bus,
		teardown: teardown,
	}
}

func (a *Base) Name() string         { return a.core.Profile().Name }
func (a *Base) Core() Core           { return a.core }
func (a *Base) Layers() LayerService { return a.layers }
func (a *Base) Store() *state.Store  { return a.store }
func (a *Base) Bus() *event.Bus      { return a.bus }

// Normalizer exposes the concrete core for engine packages and tests.
func (a *Base) Normalizer() *Normalizer { return a.core }

// Destroy releases the engine. It is safe to call more than once.
func (a *Base) Destroy() {
	a.once.Do(func() {
		for _, fn := range a.teardown {
			fn()
		}
		a.core.Destroy()
	})
}
