package maplibre

import (
	"fmt"
	"math"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/geo"
	"github.com/MeKo-Tech/mapbridge/internal/tile"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

// maxTileRequests caps the tile URLs a headless map records per source.
const maxTileRequests = 64

// Headless is a deterministic in-memory map used by tests, the CLI and the
// server. It keeps the style and camera and fires the same events as the
// browser engine for the interactions it simulates.
type Headless struct {
	mu       sync.Mutex
	cam      engine.Planar
	pitch    float64
	minZoom  float64
	maxZoom  float64
	maxPitch float64
	style    string
	sources  map[string]SourceSpecification
	layers   []LayerSpecification
	loading  map[string]bool
	requests []string
	handlers map[string]map[uint64]func(MapEvent)
	nextID   uint64
	removed  bool
}

var _ Native = (*Headless)(nil)

// NewHeadless creates a headless map.
func NewHeadless(o MapOptions) *Headless {
	h := &Headless{
		cam:      engine.Planar{TileSize: TileSize, Width: float64(o.Width), Height: float64(o.Height)},
		minZoom:  o.MinZoom,
		maxZoom:  o.MaxZoom,
		maxPitch: o.MaxPitch,
		style:    o.Style,
		sources:  make(map[string]SourceSpecification),
		loading:  make(map[string]bool),
		handlers: make(map[string]map[uint64]func(MapEvent)),
	}
	if h.maxZoom == 0 {
		h.maxZoom = DefaultMaxZoom
	}
	if h.maxPitch == 0 {
		h.maxPitch = DefaultMaxPitch
	}
	if h.style == "" {
		h.style = o.StyleURL
	}
	h.cam.Center = types.LngLat{geo.WrapLongitude(o.Center.Lon()), geo.ClampLatitude(o.Center.Lat())}
	h.cam.Zoom = h.clampZoom(o.Zoom)
	return h
}

// HeadlessLoader is a Loader that builds Headless maps.
func HeadlessLoader(o MapOptions) (Native, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return nil, fmt.Errorf("maplibre: invalid container %dx%d", o.Width, o.Height)
	}
	return NewHeadless(o), nil
}

func (h *Headless) clampZoom(z float64) float64 {
	return math.Max(h.minZoom, math.Min(h.maxZoom, z))
}

// JumpTo changes the camera without animation.
func (h *Headless) JumpTo(opts CameraOptions) {
	h.mu.Lock()
	if opts.Center != nil {
		h.cam.Center = types.LngLat{geo.WrapLongitude(opts.Center.Lon()), geo.ClampLatitude(opts.Center.Lat())}
	}
	if opts.Zoom != nil {
		h.cam.Zoom = h.clampZoom(*opts.Zoom)
	}
	if opts.Bearing != nil {
		h.cam.Bearing = *opts.Bearing
	}
	if opts.Pitch != nil {
		h.pitch = math.Max(0, math.Min(h.maxPitch, *opts.Pitch))
	}
	h.mu.Unlock()
	h.fireMove(types.Pixel{})
}

func (h *Headless) fireMove(px types.Pixel) {
	h.emit(MapEvent{Type: "movestart", Point: px})
	h.emit(MapEvent{Type: "move", Point: px})
	h.emit(MapEvent{Type: "moveend", Point: px})
}

func (h *Headless) GetCenter() types.LngLat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cam.Center
}

func (h *Headless) GetZoom() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cam.Zoom
}

func (h *Headless) GetBearing() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cam.Bearing
}

func (h *Headless) GetPitch() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pitch
}

func (h *Headless) SetMinZoom(z float64) {
	h.mu.Lock()
	h.minZoom = z
	h.mu.Unlock()
}

func (h *Headless) SetMaxZoom(z float64) {
	h.mu.Lock()
	h.maxZoom = z
	h.mu.Unlock()
}

func (h *Headless) SetMaxPitch(p float64) {
	h.mu.Lock()
	h.maxPitch = math.Min(p, MaxPitchLimit)
	h.mu.Unlock()
}

func (h *Headless) Project(ll types.LngLat) types.Pixel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cam.Project(ll)
}

func (h *Headless) Unproject(px types.Pixel) types.LngLat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cam.Unproject(px)
}

func (h *Headless) GetBounds() types.Bounds {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cam.Bounds()
}

func (h *Headless) FitBounds(b orb.Bound, padding float64) {
	h.mu.Lock()
	center, zoom := engine.FitZoom(b, h.cam.Width, h.cam.Height, TileSize, padding)
	h.cam.Center = center
	h.cam.Zoom = h.clampZoom(zoom)
	h.cam.Bearing = 0
	h.mu.Unlock()
	h.fireMove(types.Pixel{})
}

func (h *Headless) AddSource(id string, spec SourceSpecification) error {
	h.mu.Lock()
	if _, ok := h.sources[id]; ok {
		h.mu.Unlock()
		return fmt.Errorf("maplibre: source %q already exists", id)
	}
	h.sources[id] = spec
	h.requestTilesLocked(spec)
	h.loading[id] = true
	h.mu.Unlock()
	h.emit(MapEvent{Type: "dataloading", SourceID: id})
	return nil
}

func (h *Headless) requestTilesLocked(spec SourceSpecification) {
	size := spec.TileSize
	if size <= 0 {
		size = TileSize
	}
	z := tile.ZoomFor(h.cam.Zoom + math.Log2(float64(TileSize)/float64(size)))
	bbox := types.BoundingBoxOf(h.cam.Bounds())
	for _, tpl := range spec.Tiles {
		h.requests = append(h.requests, catalog.ExpandTiles(tpl, nil, bbox, z, maxTileRequests)...)
	}
	if spec.Type == "geojson" {
		if u, ok := spec.Data.(string); ok {
			h.requests = append(h.requests, u)
		}
	}
}

func (h *Headless) RemoveSource(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sources[id]; !ok {
		return fmt.Errorf("maplibre: source %q not found", id)
	}
	for _, l := range h.layers {
		if l.Source == id {
			return fmt.Errorf("maplibre: source %q is used by layer %q", id, l.ID)
		}
	}
	delete(h.sources, id)
	delete(h.loading, id)
	return nil
}

func (h *Headless) GetSource(id string) (SourceSpecification, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sources[id]
	return s, ok
}

func (h *Headless) AddLayer(spec LayerSpecification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.indexLocked(spec.ID) >= 0 {
		return fmt.Errorf("maplibre: layer %q already exists", spec.ID)
	}
	if _, ok := h.sources[spec.Source]; spec.Source != "" && !ok {
		return fmt.Errorf("maplibre: layer %q references missing source %q", spec.ID, spec.Source)
	}
	h.layers = append(h.layers, spec)
	return nil
}

func (h *Headless) RemoveLayer(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("maplibre: layer %q not found", id)
	}
	h.layers = append(h.layers[:i], h.layers[i+1:]...)
	return nil
}

func (h *Headless) GetLayer(id string) (LayerSpecification, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := h.indexLocked(id); i >= 0 {
		return h.layers[i], true
	}
	return LayerSpecification{}, false
}

func (h *Headless) SetPaintProperty(layerID, name string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexLocked(layerID)
	if i < 0 {
		return fmt.Errorf("maplibre: layer %q not found", layerID)
	}
	paint := make(map[string]any, len(h.layers[i].Paint)+1)
	for k, v := range h.layers[i].Paint {
		paint[k] = v
	}
	paint[name] = value
	h.layers[i].Paint = paint
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

func (h *Headless) On(typ string, fn func(MapEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.handlers[typ] == nil {
		h.handlers[typ] = make(map[uint64]func(MapEvent))
	}
	h.handlers[typ][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers[typ], id)
	}
}

func (h *Headless) Remove() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = true
	h.handlers = make(map[string]map[uint64]func(MapEvent))
}

func (h *Headless) emit(e MapEvent) {
	h.mu.Lock()
	fns := make([]func(MapEvent), 0, len(h.handlers[e.Type]))
	for _, fn := range h.handlers[e.Type] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// Style returns the style the map was created with.
func (h *Headless) Style() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.style
}

// Layers returns the style layers in draw order.
func (h *Headless) Layers() []LayerSpecification {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LayerSpecification(nil), h.layers...)
}

// Sources returns the style sources.
func (h *Headless) Sources() map[string]SourceSpecification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]SourceSpecification, len(h.sources))
	for k, v := range h.sources {
		out[k] = v
	}
	return out
}

// Requests returns the tile and data URLs requested so far.
func (h *Headless) Requests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.requests...)
}

// Removed reports whether Remove was called.
func (h *Headless) Removed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removed
}

// MouseMove simulates the pointer moving over the canvas.
func (h *Headless) MouseMove(px types.Pixel) { h.emit(MapEvent{Type: "mousemove", Point: px}) }

// MouseOut simulates the pointer leaving the canvas.
func (h *Headless) MouseOut() { h.emit(MapEvent{Type: "mouseout"}) }

// Click simulates a primary click.
func (h *Headless) Click(px types.Pixel) { h.emit(MapEvent{Type: "click", Point: px}) }

// DblClick simulates a double click.
func (h *Headless) DblClick(px types.Pixel) { h.emit(MapEvent{Type: "dblclick", Point: px}) }

// ContextMenu simulates a secondary click.
func (h *Headless) ContextMenu(px types.Pixel) { h.emit(MapEvent{Type: "contextmenu", Point: px}) }

// DragPan simulates panning the map content from one pixel to another in
// steps moves.
func (h *Headless) DragPan(from, to types.Pixel, steps int) {
	if steps < 1 {
		steps = 1
	}
	h.emit(MapEvent{Type: "dragstart", Point: from})
	h.emit(MapEvent{Type: "movestart", Point: from})
	prev := from
	for i := 1; i <= steps; i++ {
		f := float64(i) / float64(steps)
		cur := types.Pixel{X: from.X + (to.X-from.X)*f, Y: from.Y + (to.Y-from.Y)*f}
		h.mu.Lock()
		h.cam.Center = h.cam.PanBy(cur.X-prev.X, cur.Y-prev.Y)
		h.mu.Unlock()
		prev = cur
		h.emit(MapEvent{Type: "drag", Point: cur})
		h.emit(MapEvent{Type: "move", Point: cur})
	}
	h.emit(MapEvent{Type: "dragend", Point: to})
	h.emit(MapEvent{Type: "moveend", Point: to})
}

// ScrollZoom simulates a wheel zoom by delta levels around px.
func (h *Headless) ScrollZoom(px types.Pixel, delta float64) {
	h.mu.Lock()
	anchor := h.cam.Unproject(px)
	h.cam.Zoom = h.clampZoom(h.cam.Zoom + delta)
	moved := h.cam.Project(anchor)
	h.cam.Center = h.cam.PanBy(px.X-moved.X, px.Y-moved.Y)
	h.mu.Unlock()
	h.fireMove(px)
}

// Idle marks every loading source as loaded.
func (h *Headless) Idle() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.loading))
	for id := range h.loading {
		ids = append(ids, id)
	}
	h.loading = make(map[string]bool)
	h.mu.Unlock()
	for _, id := range ids {
		h.emit(MapEvent{Type: "sourcedata", SourceID: id, IsSourceLoaded: true})
	}
	h.emit(MapEvent{Type: "idle"})
}
