// Package host is the map element: it picks an engine, builds and
// initializes its adapter, applies the catalog, wires the tools and swaps
// engines on request while keeping the camera where it was.
//
// A Map goes through pending (adapter being built) and ready. While
// pending, Adapter returns nil and requests that need an engine are logged
// and dropped. Detach releases everything synchronously.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/config"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/event"
	mbgeojson "github.com/MeKo-Tech/mapbridge/internal/geojson"
	"github.com/MeKo-Tech/mapbridge/internal/prefs"
	"github.com/MeKo-Tech/mapbridge/internal/registry"
	"github.com/MeKo-Tech/mapbridge/internal/search"
	"github.com/MeKo-Tech/mapbridge/internal/state"
	"github.com/MeKo-Tech/mapbridge/internal/tools/geolocate"
	"github.com/MeKo-Tech/mapbridge/internal/tools/measure"
	"github.com/MeKo-Tech/mapbridge/internal/tools/scale"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/MeKo-Tech/mapbridge/internal/worker"
	"github.com/paulmach/orb/geojson"
)

var (
	// ErrDetached is returned by operations on a detached map.
	ErrDetached = errors.New("host: detached")
	// ErrNoAdapter is returned while no engine is ready.
	ErrNoAdapter = errors.New("host: no adapter")
)

// Scale bar defaults in pixels.
const (
	DefaultScaleWidth  = 100.0
	DefaultScaleMargin = 10.0
)

var mapSeq atomic.Uint64

// Options configure a Map. Document and Registry are required.
type Options struct {
	// ID identifies the map in shared registries. Empty assigns "map-N".
	ID string
	// Engine is an explicit engine choice. It wins over the stored
	// preference and the document.
	Engine   string
	Document *config.Document
	Registry *registry.Registry
	// Prefs is optional. Without it nothing is remembered.
	Prefs *prefs.Store

	// Fetcher loads GeoJSON sources that have a URL. Nil uses an HTTP loader.
	Fetcher      worker.Fetcher
	FetchWorkers int

	// Search answers feature searches. Nil uses Overpass at the document's
	// search endpoint.
	Search search.Provider
	// Geolocation is shared between maps. Nil creates a private registry fed
	// by a manual position feed.
	Geolocation *geolocate.Registry

	ScaleWidth float64
	ScaleUnits scale.Units
	OnScale    func(scale.Bar)
	OnZoom     func(zoom float64)
	OnMeasure  func(measure.Result)
	OnFetch    func(completed, total, failed int)
	Throttle   time.Duration
	Clock      event.Clock
	Logger     *slog.Logger
}

// Map is one host map element.
type Map struct {
	id     string
	opts   Options
	doc    *config.Document
	logger *slog.Logger

	store   *state.Store
	bus     *event.Bus
	events  *Events
	session *search.Session
	geo     *geolocate.Registry
	subs    event.Group

	mu       sync.Mutex
	gen      uint64
	detached bool
	pending  *registry.Pending
	adapter  engine.Adapter
	name     string
	kit      *toolKit
	shown    []string
	adhoc    map[string]LayerAddRequest
	deferred map[string]map[string]bool
	fetched  map[string]catalog.Source
	cancels  []context.CancelFunc
	warnings []string

	// applyMu serializes fetch results against teardown.
	applyMu sync.Mutex
	fetchWG sync.WaitGroup
}

// New creates a detached-from-engine map. Call Attach to build the engine.
func New(opts Options) (*Map, error) {
	if opts.Document == nil {
		return nil, errors.New("host: document required")
	}
	if opts.Registry == nil {
		return nil, errors.New("host: registry required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("map-%d", mapSeq.Add(1))
	}
	logger = logger.With("map", id)
	if opts.Fetcher == nil {
		opts.Fetcher = mbgeojson.NewLoader(nil)
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 4
	}
	if opts.ScaleWidth <= 0 {
		opts.ScaleWidth = DefaultScaleWidth
	}
	provider := opts.Search
	if provider == nil {
		provider = search.NewOverpassProvider(opts.Document.Search.Endpoint, logger)
	}
	geo := opts.Geolocation
	if geo == nil {
		geo = geolocate.NewRegistry(geolocate.NewFeed(), logger)
	}

	m := &Map{
		id:       id,
		opts:     opts,
		doc:      opts.Document,
		logger:   logger.With("component", "host"),
		store:    state.New(state.AppState{}, logger),
		bus:      event.NewBus(logger.With("component", "event")),
		events:   NewEvents(logger),
		session:  search.NewSession(provider, logger),
		geo:      geo,
		adhoc:    make(map[string]LayerAddRequest),
		deferred: make(map[string]map[string]bool),
		fetched:  make(map[string]catalog.Source),
	}
	for _, l := range m.doc.Catalog.VisibleLayers() {
		m.shown = append(m.shown, l.ID)
	}
	m.listen()
	return m, nil
}

func (m *Map) ID() string                 { return m.id }
func (m *Map) Store() *state.Store        { return m.store }
func (m *Map) Bus() *event.Bus            { return m.bus }
func (m *Map) Events() *Events            { return m.events }
func (m *Map) Document() *config.Document { return m.doc }

// Adapter returns the ready adapter, or nil while pending or detached.
func (m *Map) Adapter() engine.Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adapter
}

// Engine returns the name of the current or pending engine.
func (m *Map) Engine() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Pending returns the in-flight build, if any.
func (m *Map) Pending() *registry.Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Warnings returns the catalog warnings of the last apply.
func (m *Map) Warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.warnings)
}

// ResolveEngine picks the engine name: explicit, then stored preference,
// then document, then the default. Stored and document names the registry
// does not know are skipped.
func (m *Map) ResolveEngine(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if m.opts.Prefs != nil {
		if name := m.opts.Prefs.LoadEngine(); name != "" {
			if m.opts.Registry.Has(name) {
				return name
			}
			m.logger.Warn("ignoring stored engine", "op", "resolve_engine", "engine", name)
		}
	}
	if name := m.doc.Map.Engine; name != "" {
		if m.opts.Registry.Has(name) {
			return name
		}
		m.logger.Warn("ignoring configured engine", "op", "resolve_engine", "engine", name)
	}
	return registry.DefaultEngine
}

// Attach builds the engine and blocks until it is ready or fails. On
// failure the adapter stays nil and the error is logged and returned.
func (m *Map) Attach(ctx context.Context) error {
	m.mu.Lock()
	attached := m.adapter != nil
	m.mu.Unlock()
	if attached {
		return errors.New("host: already attached")
	}
	name := m.ResolveEngine(m.opts.Engine)
	var vp *types.Viewport
	if m.opts.Prefs != nil {
		if v, ok := m.opts.Prefs.LoadViewport(); ok {
			vp = &v
		}
	}
	return m.start(ctx, name, vp, "")
}

// SwitchEngine replaces the adapter with one for name. The viewport, the
// shown layers and the active modal tool carry over, and both the engine
// choice and the viewport are stored in the preferences.
func (m *Map) SwitchEngine(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		return ErrDetached
	}
	old, kit := m.adapter, m.kit
	m.adapter, m.kit = nil, nil
	m.gen++
	m.mu.Unlock()

	var vp *types.Viewport
	active := ""
	if old != nil {
		v := old.Core().ViewportState()
		vp = &v
		if m.opts.Prefs != nil {
			if err := m.opts.Prefs.SaveViewport(v); err != nil {
				m.logger.Warn("failed to store viewport", "op", "switch_engine", "error", err)
			}
		}
	}
	if kit != nil {
		active = kit.mgr.ActiveID()
		kit.close()
	}
	m.stopFetches()
	if old != nil {
		old.Destroy()
	}
	if m.opts.Prefs != nil {
		if err := m.opts.Prefs.SaveEngine(name); err != nil {
			m.logger.Warn("failed to store engine", "op", "switch_engine", "error", err)
		}
	}
	m.logger.Info("switching engine", "op", "switch_engine", "engine", name)
	return m.start(ctx, name, vp, active)
}

func (m *Map) deps() engine.Deps {
	return engine.Deps{
		Store:    m.store,
		Bus:      m.bus,
		Logger:   m.logger,
		Clock:    m.opts.Clock,
		Throttle: m.opts.Throttle,
	}
}

func (m *Map) start(ctx context.Context, name string, vp *types.Viewport, reactivate string) error {
	p := m.opts.Registry.Build(ctx, name, m.deps())

	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		go destroyWhenReady(p)
		return ErrDetached
	}
	m.gen++
	gen := m.gen
	m.pending = p
	m.name = p.Name()
	m.mu.Unlock()

	a, err := p.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			go destroyWhenReady(p)
		}
		m.logger.Error("engine unavailable", "op", "attach", "engine", name, "error", err)
		return fmt.Errorf("engine %q: %w", name, err)
	}

	opts := m.doc.Map.Options()
	if vp != nil {
		opts.Center, opts.Zoom = vp.Center, vp.Zoom
	}
	if err := a.Core().Initialize(ctx, m.doc.Map.Container(), opts); err != nil {
		a.Destroy()
		m.logger.Error("engine initialize failed", "op", "attach", "engine", name, "error", err)
		return fmt.Errorf("initialize %q: %w", name, err)
	}
	if vp != nil {
		restoreOrientation(a.Core(), *vp, m.logger)
	}

	m.mu.Lock()
	if m.detached || m.gen != gen {
		m.mu.Unlock()
		a.Destroy()
		return ErrDetached
	}
	m.adapter = a
	m.pending = nil
	m.mu.Unlock()

	kit, err := newToolKit(m, a)
	if err != nil {
		m.logger.Error("tool setup failed", "op", "attach", "error", err)
	}
	m.mu.Lock()
	m.kit = kit
	m.mu.Unlock()

	m.events.Emit(EngineReady{Engine: a.Name(), Capabilities: a.Core().Capabilities()})
	m.applyCatalog(ctx, gen, a)

	if reactivate != "" && kit != nil {
		if err := kit.mgr.Activate(reactivate); err != nil {
			m.logger.Warn("could not restore tool", "op", "switch_engine", "tool", reactivate, "error", err)
		}
	}
	return nil
}

func destroyWhenReady(p *registry.Pending) {
	<-p.Ready()
	if a := p.Adapter(); a != nil {
		a.Destroy()
	}
}

func restoreOrientation(core engine.Core, vp types.Viewport, logger *slog.Logger) {
	caps := core.Capabilities()
	if caps.Bearing && vp.Bearing != 0 {
		if err := core.SetBearing(vp.Bearing); err != nil {
			logger.Warn("bearing not restored", "op", "switch_engine", "bearing", vp.Bearing, "error", err)
		}
	}
	if caps.Pitch && vp.Pitch != 0 {
		if err := core.SetPitch(vp.Pitch); err != nil {
			logger.Warn("pitch not restored", "op", "switch_engine", "pitch", vp.Pitch, "error", err)
		}
	}
}

// Detach unsubscribes every listener, drops pending fetch and search
// results and destroys the adapter. It is safe to call more than once.
func (m *Map) Detach() {
	m.mu.Lock()
	if m.detached {
		m.mu.Unlock()
		return
	}
	m.detached = true
	m.gen++
	a, kit, p := m.adapter, m.kit, m.pending
	m.adapter, m.kit, m.pending = nil, nil, nil
	m.mu.Unlock()

	m.stopFetches()
	m.session.Close()
	m.subs.Close()
	if kit != nil {
		kit.close()
	}
	if a != nil {
		a.Destroy()
	}
	if p != nil {
		go destroyWhenReady(p)
	}
	m.events.Clear()
	m.logger.Debug("detached", "op", "detach")
}

// Wait blocks until background source fetches have finished.
func (m *Map) Wait() {
	m.fetchWG.Wait()
}

// Search looks up named features inside the current view. Superseded
// searches return search.ErrStale.
func (m *Map) Search(ctx context.Context, text string) (*geojson.FeatureCollection, error) {
	q, err := m.searchQuery(text)
	if err != nil {
		return nil, err
	}
	return m.session.Search(ctx, q)
}

// SubmitSearch runs a search in the background and calls fn unless a newer
// search replaced it or the map was detached.
func (m *Map) SubmitSearch(ctx context.Context, text string, fn func(*geojson.FeatureCollection, error)) {
	q, err := m.searchQuery(text)
	if err != nil {
		fn(nil, err)
		return
	}
	m.session.Submit(ctx, q, fn)
}

func (m *Map) searchQuery(text string) (search.Query, error) {
	bounds, ok := types.BoundsOfPolygon(m.store.State().MapViewportBounds)
	if !ok {
		return search.Query{}, fmt.Errorf("search %q: %w", text, ErrNoAdapter)
	}
	return search.Query{Text: text, Bounds: types.BoundingBoxOf(bounds), Limit: m.doc.Search.Limit}, nil
}
