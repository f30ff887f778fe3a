// Package measure implements the distance and area measurement tool.
//
// Clicks add vertices. Clicking near the first vertex closes a polygon,
// clicking near the last vertex (or double-clicking) finishes a line. The
// sketch is drawn through a GeoJSON source whose loading never marks the
// map busy.
package measure

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/event"
	"github.com/MeKo-Tech/mapbridge/internal/geo"
	"github.com/MeKo-Tech/mapbridge/internal/layers"
	"github.com/MeKo-Tech/mapbridge/internal/tools"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ID is the tool id used with the manager.
const ID = "measure"

// Default pixel thresholds.
const (
	DefaultCloseThresholdPx  = 12.0
	DefaultFinishThresholdPx = 12.0
)

const sketchID = "measure-sketch"

// Options are the tool's option bag from the map document.
type Options struct {
	CloseThresholdPx  float64 `mapstructure:"close_threshold_px" json:"closeThresholdPx" yaml:"close_threshold_px"`
	FinishThresholdPx float64 `mapstructure:"finish_threshold_px" json:"finishThresholdPx" yaml:"finish_threshold_px"`
}

func (o Options) withDefaults() Options {
	if o.CloseThresholdPx <= 0 {
		o.CloseThresholdPx = DefaultCloseThresholdPx
	}
	if o.FinishThresholdPx <= 0 {
		o.FinishThresholdPx = DefaultFinishThresholdPx
	}
	return o
}

// Result is a finished measurement.
type Result struct {
	Closed      bool           `json:"closed"`
	Coordinates []types.LngLat `json:"coordinates"`
	// LengthM is the path length, or the perimeter of a closed ring.
	LengthM float64 `json:"lengthM"`
	AreaM2  float64 `json:"areaM2"`
}

// Geometry returns the result as a LineString or a Polygon.
func (r Result) Geometry() orb.Geometry {
	if r.Closed {
		ring := orb.Ring(slices.Clone(r.Coordinates))
		ring = append(ring, ring[0])
		return orb.Polygon{ring}
	}
	return orb.LineString(slices.Clone(r.Coordinates))
}

// Feature returns the result as a GeoJSON feature with the measured values
// as properties.
func (r Result) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Geometry())
	f.Properties["length_m"] = r.LengthM
	if r.Closed {
		f.Properties["area_m2"] = r.AreaM2
	}
	return f
}

// Tool is the modal measurement tool.
type Tool struct {
	adapter engine.Adapter
	mgr     *tools.Manager
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	vertices []types.LngLat
	last     *Result
	drawn    bool
	subs     event.Group
	onResult func(Result)
}

var _ tools.Tool = (*Tool)(nil)

// New creates the tool for one adapter. onResult, if set, receives every
// finished measurement.
func New(adapter engine.Adapter, mgr *tools.Manager, opts Options, onResult func(Result), logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		adapter:  adapter,
		mgr:      mgr,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "measure"),
		onResult: onResult,
	}
}

func (t *Tool) ID() string  { return ID }
func (t *Tool) Modal() bool { return true }

// Options returns the effective options.
func (t *Tool) Options() Options { return t.opts }

// Activate starts listening for clicks. Call it through the manager.
func (t *Tool) Activate() {
	bus := t.adapter.Bus()
	t.mu.Lock()
	t.subs.Add(
		bus.On(event.TypeClick, func(e event.Event) { t.click(e.(event.Click).Pointer) }),
		bus.On(event.TypeDoubleClick, func(event.Event) { t.finish(false) }),
	)
	t.mu.Unlock()
	t.adapter.Core().SuppressBusySignalForSource(layers.NativeSourceID(sketchID))
}

// Deactivate stops the tool and removes the sketch. Called from outside the
// manager it routes through the manager so the store stays consistent.
func (t *Tool) Deactivate() {
	if t.mgr != nil && !t.mgr.CalledByManager(ID) {
		t.mgr.Deactivate(ID)
		return
	}
	t.mu.Lock()
	t.subs.Close()
	t.vertices = nil
	t.mu.Unlock()
	t.clearSketch()
	t.adapter.Core().UnsuppressBusySignalForSource(layers.NativeSourceID(sketchID))
}

// Vertices returns the vertices of the measurement in progress.
func (t *Tool) Vertices() []types.LngLat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.vertices)
}

// Last returns the most recent finished measurement.
func (t *Tool) Last() (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Result{}, false
	}
	return *t.last, true
}

// Live returns the measurement in progress as an open line.
func (t *Tool) Live() Result {
	t.mu.Lock()
	pts := slices.Clone(t.vertices)
	t.mu.Unlock()
	return measure(pts, false)
}

func (t *Tool) click(p event.Pointer) {
	if p.Coords == nil {
		return
	}
	core := t.adapter.Core()

	t.mu.Lock()
	n := len(t.vertices)
	var first, last types.LngLat
	if n > 0 {
		first, last = t.vertices[0], t.vertices[n-1]
	}
	t.mu.Unlock()

	if n >= 3 && t.near(core, first, p.Pixel, t.opts.CloseThresholdPx) {
		t.finish(true)
		return
	}
	if n >= 2 && t.near(core, last, p.Pixel, t.opts.FinishThresholdPx) {
		t.finish(false)
		return
	}

	t.mu.Lock()
	if n == 0 {
		t.last = nil
	}
	t.vertices = append(t.vertices, *p.Coords)
	pts := slices.Clone(t.vertices)
	t.mu.Unlock()
	t.draw(measure(pts, false))
}

func (t *Tool) near(core engine.Core, ll types.LngLat, px types.Pixel, threshold float64) bool {
	vp, ok := core.Project(ll)
	if !ok {
		return false
	}
	return vp.DistanceTo(px) <= threshold
}

func (t *Tool) finish(closed bool) {
	t.mu.Lock()
	pts := t.vertices
	if len(pts) < 2 || (closed && len(pts) < 3) {
		t.mu.Unlock()
		return
	}
	t.vertices = nil
	r := measure(pts, closed)
	t.last = &r
	cb := t.onResult
	t.mu.Unlock()

	t.draw(r)
	t.logger.Debug("measurement finished", "op", "finish", "closed", r.Closed, "length_m", r.LengthM, "area_m2", r.AreaM2)
	if cb != nil {
		cb(r)
	}
}

func measure(pts []types.LngLat, closed bool) Result {
	r := Result{Closed: closed, Coordinates: pts}
	line := orb.LineString(pts)
	if closed && len(pts) > 0 {
		line = append(slices.Clone(line), pts[0])
		r.AreaM2 = geo.GeodesicArea(orb.Ring(pts))
	}
	r.LengthM = geo.PathLength(line)
	return r
}

func (t *Tool) draw(r Result) {
	fc := geojson.NewFeatureCollection()
	if len(r.Coordinates) >= 2 {
		fc.Append(r.Feature())
	}
	for _, v := range r.Coordinates {
		fc.Append(geojson.NewFeature(v))
	}

	svc := t.adapter.Layers()
	if err := svc.RemoveLayer(sketchID); err != nil {
		t.logger.Warn("remove sketch layer", "op", "draw", "error", err)
	}
	src := catalog.Source{ID: sketchID, Type: catalog.KindGeoJSON, Data: fc}
	if err := svc.AddSource(src); err != nil {
		t.logger.Warn("update sketch source", "op", "draw", "error", err)
		return
	}
	layer := catalog.Layer{
		ID:      sketchID,
		Visible: true,
		Layerset: []catalog.StyleLayer{
			{ID: "fill", Source: sketchID, Type: catalog.StyleFill, Paint: map[string]any{"fill-opacity": 0.2}},
			{ID: "line", Source: sketchID, Type: catalog.StyleLine, Paint: map[string]any{"line-width": 2.0}},
			{ID: "vertex", Source: sketchID, Type: catalog.StyleCircle, Paint: map[string]any{"circle-radius": 4.0}},
		},
	}
	if err := svc.AddLayer(layer); err != nil {
		t.logger.Warn("add sketch layer", "op", "draw", "error", fmt.Errorf("measure sketch: %w", err))
		return
	}
	t.mu.Lock()
	t.drawn = true
	t.mu.Unlock()
}

func (t *Tool) clearSketch() {
	t.mu.Lock()
	drawn := t.drawn
	t.drawn = false
	t.mu.Unlock()
	if !drawn {
		return
	}
	svc := t.adapter.Layers()
	if err := svc.RemoveLayer(sketchID); err != nil {
		t.logger.Warn("remove sketch layer", "op", "clear", "error", err)
	}
	if err := svc.RemoveSource(sketchID); err != nil {
		t.logger.Warn("remove sketch source", "op", "clear", "error", err)
	}
}
