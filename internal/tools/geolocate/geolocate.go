// Package geolocate shows the device position on the map.
//
// A position watch is expensive, so every geolocate tool on the same host
// map shares one watch. The sharing goes through a tools.Shared registry
// created once per process and injected into each tool.
package geolocate

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/layers"
	"github.com/MeKo-Tech/mapbridge/internal/tools"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb/geojson"
)

// ID is the tool id used with the manager.
const ID = "geolocate"

const positionID = "geolocate-position"

// Position is one fix from the device.
type Position struct {
	Coords    types.LngLat `json:"coords"`
	AccuracyM float64      `json:"accuracyM"`
	Time      time.Time    `json:"time"`
}

// Provider starts a device position watch. stop ends it.
type Provider interface {
	Watch(fn func(Position)) (stop func(), err error)
}

// Watch fans one provider watch out to any number of listeners.
type Watch struct {
	mu     sync.Mutex
	last   *Position
	subs   map[uint64]func(Position)
	nextID uint64
	stop   func()
}

func (w *Watch) deliver(p Position) {
	w.mu.Lock()
	w.last = &p
	fns := make([]func(Position), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

// Subscribe registers fn and replays the last known position to it.
func (w *Watch) Subscribe(fn func(Position)) func() {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.subs[id] = fn
	last := w.last
	w.mu.Unlock()
	if last != nil {
		fn(*last)
	}
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// Last returns the most recent position.
func (w *Watch) Last() (Position, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return Position{}, false
	}
	return *w.last, true
}

// Registry shares one Watch per host map id.
type Registry = tools.Shared[string, *Watch]

// NewRegistry returns a registry whose watches are started on provider.
func NewRegistry(provider Provider, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	create := func(mapID string) (*Watch, error) {
		w := &Watch{subs: make(map[uint64]func(Position))}
		stop, err := provider.Watch(w.deliver)
		if err != nil {
			return nil, fmt.Errorf("start position watch: %w", err)
		}
		w.stop = stop
		logger.Debug("position watch started", "component", "geolocate", "op", "acquire", "map", mapID)
		return w, nil
	}
	teardown := func(mapID string, w *Watch) {
		if w.stop != nil {
			w.stop()
		}
		logger.Debug("position watch stopped", "component", "geolocate", "op", "release", "map", mapID)
	}
	return tools.NewShared(create, teardown, logger)
}

// Options configure the tool.
type Options struct {
	// Follow recenters the map on every fix.
	Follow bool `mapstructure:"follow" json:"follow" yaml:"follow"`
	// Zoom is the canonical zoom used when following. Zero keeps the
	// current zoom.
	Zoom float64 `mapstructure:"zoom" json:"zoom" yaml:"zoom"`
}

// Tool is the modal geolocation tool.
type Tool struct {
	adapter  engine.Adapter
	mgr      *tools.Manager
	registry *Registry
	mapID    string
	opts     Options
	logger   *slog.Logger

	mu     sync.Mutex
	unsub  func()
	shown  bool
	active bool
	last   *Position
}

var _ tools.Tool = (*Tool)(nil)

// New creates the tool for the host map mapID.
func New(adapter engine.Adapter, mgr *tools.Manager, registry *Registry, mapID string, opts Options, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		adapter:  adapter,
		mgr:      mgr,
		registry: registry,
		mapID:    mapID,
		opts:     opts,
		logger:   logger.With("component", "geolocate"),
	}
}

func (t *Tool) ID() string  { return ID }
func (t *Tool) Modal() bool { return true }

// Activate joins the shared watch for the host map.
func (t *Tool) Activate() {
	w, err := t.registry.Acquire(t.mapID)
	if err != nil {
		t.logger.Error("geolocation unavailable", "op", "activate", "map", t.mapID, "error", err)
		return
	}
	t.adapter.Core().SuppressBusySignalForSource(layers.NativeSourceID(positionID))
	t.mu.Lock()
	t.active = true
	t.mu.Unlock()
	unsub := w.Subscribe(t.onPosition)
	t.mu.Lock()
	t.unsub = unsub
	t.mu.Unlock()
}

// Deactivate leaves the shared watch and removes the marker. Called from
// outside the manager it routes through the manager.
func (t *Tool) Deactivate() {
	if t.mgr != nil && !t.mgr.CalledByManager(ID) {
		t.mgr.Deactivate(ID)
		return
	}
	t.mu.Lock()
	unsub, active, shown := t.unsub, t.active, t.shown
	t.unsub, t.active, t.shown = nil, false, false
	t.mu.Unlock()
	if !active {
		return
	}
	if unsub != nil {
		unsub()
	}
	t.registry.Release(t.mapID)
	if shown {
		svc := t.adapter.Layers()
		if err := svc.RemoveLayer(positionID); err != nil {
			t.logger.Warn("remove position layer", "op", "deactivate", "error", err)
		}
		if err := svc.RemoveSource(positionID); err != nil {
			t.logger.Warn("remove position source", "op", "deactivate", "error", err)
		}
	}
	t.adapter.Core().UnsuppressBusySignalForSource(layers.NativeSourceID(positionID))
}

// Last returns the last position shown.
func (t *Tool) Last() (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Position{}, false
	}
	return *t.last, true
}

func (t *Tool) onPosition(p Position) {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.last = &p
	t.mu.Unlock()

	t.show(p)
	if t.opts.Follow {
		core := t.adapter.Core()
		zoom := t.opts.Zoom
		if zoom == 0 {
			zoom = core.Zoom()
		}
		if err := core.SetViewport(p.Coords, zoom); err != nil {
			t.logger.Warn("follow position", "op", "follow", "error", err)
		}
	}
}

func (t *Tool) show(p Position) {
	f := geojson.NewFeature(p.Coords)
	f.Properties["accuracy_m"] = p.AccuracyM
	fc := geojson.NewFeatureCollection().Append(f)

	svc := t.adapter.Layers()
	if err := svc.RemoveLayer(positionID); err != nil {
		t.logger.Warn("remove position layer", "op", "show", "error", err)
	}
	if err := svc.AddSource(catalog.Source{ID: positionID, Type: catalog.KindGeoJSON, Data: fc}); err != nil {
		t.logger.Warn("update position source", "op", "show", "error", err)
		return
	}
	err := svc.AddLayer(catalog.Layer{
		ID:      positionID,
		Visible: true,
		Layerset: []catalog.StyleLayer{
			{ID: "dot", Source: positionID, Type: catalog.StyleCircle, Paint: map[string]any{"circle-radius": 6.0}},
		},
	})
	if err != nil {
		t.logger.Warn("add position layer", "op", "show", "error", err)
		return
	}
	t.mu.Lock()
	t.shown = true
	t.mu.Unlock()
}

// Feed is a Provider driven by explicit Push calls, used by the headless
// host and tests.
type Feed struct {
	mu       sync.Mutex
	watchers map[uint64]func(Position)
	nextID   uint64
	started  int
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{watchers: make(map[uint64]func(Position))}
}

// Watch implements Provider.
func (f *Feed) Watch(fn func(Position)) (func(), error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.watchers[id] = fn
	f.started++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.watchers, id)
		f.mu.Unlock()
	}, nil
}

// Push delivers p to every running watch.
func (f *Feed) Push(p Position) {
	f.mu.Lock()
	fns := make([]func(Position), 0, len(f.watchers))
	for _, fn := range f.watchers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

// Running returns the number of live watches.
func (f *Feed) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// Started returns how many watches were ever started.
func (f *Feed) Started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}
