package openlayers

import (
	"fmt"
	"math"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/tile"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const maxTileRequests = 64

// Headless is a deterministic in-memory map. Tile sources fire one
// tileloadstart per visible tile and finish them on Idle.
type Headless struct {
	mu       sync.Mutex
	width    int
	height   int
	view     ViewState
	minRes   float64
	maxRes   float64
	layers   []LayerSpec
	pending  map[string]int
	requests []string
	handlers map[string]map[uint64]func(MapBrowserEvent)
	nextID   uint64
	disposed bool
}

var _ Native = (*Headless)(nil)

// NewHeadless creates a headless map.
func NewHeadless(o MapOptions) *Headless {
	maxZoom := o.MaxZoom
	if maxZoom == 0 {
		maxZoom = DefaultMaxZoom
	}
	h := &Headless{
		width:    o.Width,
		height:   o.Height,
		minRes:   ResolutionForZoom(maxZoom),
		maxRes:   ResolutionForZoom(o.MinZoom),
		pending:  make(map[string]int),
		handlers: make(map[string]map[uint64]func(MapBrowserEvent)),
	}
	h.view = h.constrain(o.View)
	return h
}

// HeadlessLoader is a Loader that builds Headless maps.
func HeadlessLoader(o MapOptions) (Native, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return nil, fmt.Errorf("openlayers: invalid size %dx%d", o.Width, o.Height)
	}
	return NewHeadless(o), nil
}

func (h *Headless) constrain(v ViewState) ViewState {
	v.Resolution = math.Max(h.minRes, math.Min(h.maxRes, v.Resolution))
	return v
}

// planar returns the view as a top-down camera in native zoom.
func (h *Headless) planar() engine.Planar {
	return engine.Planar{
		TileSize: TileSize,
		Width:    float64(h.width),
		Height:   float64(h.height),
		Center:   project.Mercator.ToWGS84(h.view.Center),
		Zoom:     ZoomForResolution(h.view.Resolution),
		Bearing:  h.view.Rotation * 180 / math.Pi,
	}
}

func (h *Headless) GetView() ViewState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view
}

func (h *Headless) SetView(v ViewState) {
	h.mu.Lock()
	h.view = h.constrain(v)
	h.mu.Unlock()
	h.emit(MapBrowserEvent{Type: "movestart"})
	h.emit(MapBrowserEvent{Type: "change:center"})
	h.emit(MapBrowserEvent{Type: "moveend"})
}

func (h *Headless) GetSize() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height
}

func (h *Headless) GetCoordinateFromPixel(px types.Pixel) orb.Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	return project.WGS84.ToMercator(h.planar().Unproject(px))
}

func (h *Headless) GetPixelFromCoordinate(c orb.Point) types.Pixel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.planar().Project(project.Mercator.ToWGS84(c))
}

func (h *Headless) CalculateExtent() orb.Bound {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.planar().Bounds()
	return orb.Bound{Min: project.WGS84.ToMercator(b.SW), Max: project.WGS84.ToMercator(b.NE)}
}

func (h *Headless) Fit(extent orb.Bound, padding float64) {
	ll := orb.Bound{Min: project.Mercator.ToWGS84(extent.Min), Max: project.Mercator.ToWGS84(extent.Max)}
	h.mu.Lock()
	center, zoom := engine.FitZoom(ll, float64(h.width), float64(h.height), TileSize, padding)
	v := ViewState{Center: project.WGS84.ToMercator(center), Resolution: ResolutionForZoom(zoom)}
	h.mu.Unlock()
	h.SetView(v)
}

func (h *Headless) AddLayer(spec LayerSpec) error {
	h.mu.Lock()
	if h.indexLocked(spec.ID) >= 0 {
		h.mu.Unlock()
		return fmt.Errorf("openlayers: layer %q already added", spec.ID)
	}
	h.layers = append(h.layers, spec)
	urls := h.loadLocked(spec.Source)
	h.pending[spec.SourceID] += len(urls)
	h.mu.Unlock()
	for range urls {
		h.emit(MapBrowserEvent{Type: "tileloadstart", SourceID: spec.SourceID})
	}
	return nil
}

// loadLocked returns the URLs a source requests for the current view.
func (h *Headless) loadLocked(src SourceSpec) []string {
	var urls []string
	if src.TileURLFunction != nil {
		size := src.TileSize
		if size <= 0 {
			size = TileSize
		}
		p := h.planar()
		z := tile.ZoomFor(p.Zoom + math.Log2(float64(TileSize)/float64(size)))
		for _, c := range tile.TilesInBBox(types.BoundingBoxOf(p.Bounds()), z) {
			if len(urls) == maxTileRequests {
				break
			}
			urls = append(urls, src.TileURLFunction(c))
		}
	} else if src.URL != "" {
		urls = append(urls, src.URL)
	}
	h.requests = append(h.requests, urls...)
	return urls
}

func (h *Headless) RemoveLayer(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("openlayers: layer %q not found", id)
	}
	h.layers = append(h.layers[:i], h.layers[i+1:]...)
	return nil
}

func (h *Headless) GetLayer(id string) (LayerSpec, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := h.indexLocked(id); i >= 0 {
		return h.layers[i], true
	}
	return LayerSpec{}, false
}

func (h *Headless) SetStyle(id string, style map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("openlayers: layer %q not found", id)
	}
	h.layers[i].Style = style
	return nil
}

func (h *Headless) indexLocked(id string) int {
	for i, l := range h.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (h *Headless) On(typ string, fn func(MapBrowserEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.handlers[typ] == nil {
		h.handlers[typ] = make(map[uint64]func(MapBrowserEvent))
	}
	h.handlers[typ][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers[typ], id)
	}
}

func (h *Headless) Dispose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disposed = true
	h.handlers = make(map[string]map[uint64]func(MapBrowserEvent))
}

func (h *Headless) emit(e MapBrowserEvent) {
	h.mu.Lock()
	fns := make([]func(MapBrowserEvent), 0, len(h.handlers[e.Type]))
	for _, fn := range h.handlers[e.Type] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// Layers returns the layers in draw order.
func (h *Headless) Layers() []LayerSpec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LayerSpec(nil), h.layers...)
}

// Requests returns the URLs requested so far.
func (h *Headless) Requests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.requests...)
}

// Disposed reports whether Dispose was called.
func (h *Headless) Disposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

// PointerMove simulates the pointer moving over the viewport.
func (h *Headless) PointerMove(px types.Pixel) {
	h.emit(MapBrowserEvent{Type: "pointermove", Pixel: px})
}

// PointerLeave simulates the pointer leaving the viewport.
func (h *Headless) PointerLeave() { h.emit(MapBrowserEvent{Type: "pointerleave"}) }

// SingleClick simulates a click that is not part of a double click.
func (h *Headless) SingleClick(px types.Pixel) {
	h.emit(MapBrowserEvent{Type: "singleclick", Pixel: px})
}

// DblClick simulates a double click.
func (h *Headless) DblClick(px types.Pixel) { h.emit(MapBrowserEvent{Type: "dblclick", Pixel: px}) }

// ContextMenu simulates a secondary click.
func (h *Headless) ContextMenu(px types.Pixel) {
	h.emit(MapBrowserEvent{Type: "contextmenu", Pixel: px})
}

// DragPan simulates dragging the map content from one pixel to another.
// The engine reports only pointerdrag and pointerup.
func (h *Headless) DragPan(from, to types.Pixel, steps int) {
	if steps < 1 {
		steps = 1
	}
	h.emit(MapBrowserEvent{Type: "movestart", Pixel: from})
	prev := from
	for i := 1; i <= steps; i++ {
		f := float64(i) / float64(steps)
		cur := types.Pixel{X: from.X + (to.X-from.X)*f, Y: from.Y + (to.Y-from.Y)*f}
		h.mu.Lock()
		p := h.planar()
		h.view.Center = project.WGS84.ToMercator(p.PanBy(cur.X-prev.X, cur.Y-prev.Y))
		h.mu.Unlock()
		prev = cur
		h.emit(MapBrowserEvent{Type: "pointerdrag", Pixel: cur})
		h.emit(MapBrowserEvent{Type: "change:center", Pixel: cur})
	}
	h.emit(MapBrowserEvent{Type: "pointerup", Pixel: to})
	h.emit(MapBrowserEvent{Type: "moveend", Pixel: to})
}

// ScrollZoom simulates a wheel zoom by delta native levels around px.
func (h *Headless) ScrollZoom(px types.Pixel, delta float64) {
	h.mu.Lock()
	p := h.planar()
	anchor := p.Unproject(px)
	p.Zoom = ZoomForResolution(h.constrain(ViewState{Resolution: ResolutionForZoom(p.Zoom + delta)}).Resolution)
	moved := p.Project(anchor)
	h.view.Resolution = ResolutionForZoom(p.Zoom)
	h.view.Center = project.WGS84.ToMercator(p.PanBy(px.X-moved.X, px.Y-moved.Y))
	h.mu.Unlock()
	h.emit(MapBrowserEvent{Type: "movestart", Pixel: px})
	h.emit(MapBrowserEvent{Type: "change:resolution", Pixel: px})
	h.emit(MapBrowserEvent{Type: "moveend", Pixel: px})
}

// Idle finishes every pending tile load.
func (h *Headless) Idle() {
	h.mu.Lock()
	pending := h.pending
	h.pending = make(map[string]int)
	h.mu.Unlock()
	for id, n := range pending {
		for range n {
			h.emit(MapBrowserEvent{Type: "tileloadend", SourceID: id})
		}
	}
}
