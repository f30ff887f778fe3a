package leaflet

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/tile"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

const maxTileRequests = 64

// Headless is a deterministic in-memory map.
type Headless struct {
	mu       sync.Mutex
	cam      engine.Planar
	minZoom  float64
	maxZoom  float64
	snap     float64
	layers   []Layer
	loading  map[string]bool
	requests []string
	handlers map[string]map[uint64]func(Event)
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
		snap:     o.ZoomSnap,
		loading:  make(map[string]bool),
		handlers: make(map[string]map[uint64]func(Event)),
	}
	if h.maxZoom == 0 {
		h.maxZoom = DefaultMaxZoom
	}
	h.cam.Center = types.LngLat{o.Center.Lng, o.Center.Lat}
	h.cam.Zoom = h.limitZoom(o.Zoom)
	return h
}

// HeadlessLoader is a Loader that builds Headless maps.
func HeadlessLoader(o MapOptions) (Native, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return nil, fmt.Errorf("leaflet: invalid size %dx%d", o.Width, o.Height)
	}
	return NewHeadless(o), nil
}

// limitZoom snaps and clamps a zoom the way the engine does.
func (h *Headless) limitZoom(z float64) float64 {
	if h.snap > 0 {
		z = math.Round(z/h.snap) * h.snap
	}
	return math.Max(h.minZoom, math.Min(h.maxZoom, z))
}

func toLngLat(ll LatLng) types.LngLat  { return types.LngLat{ll.Lng, ll.Lat} }
func fromLngLat(p types.LngLat) LatLng { return LatLng{Lat: p.Lat(), Lng: p.Lon()} }

func (h *Headless) GetCenter() LatLng {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fromLngLat(h.cam.Center)
}

func (h *Headless) GetZoom() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cam.Zoom
}

func (h *Headless) SetView(center LatLng, zoom float64) {
	h.mu.Lock()
	h.cam.Center = toLngLat(center)
	h.cam.Zoom = h.limitZoom(zoom)
	h.mu.Unlock()
	h.moved(Point{})
}

func (h *Headless) SetZoom(zoom float64) {
	h.mu.Lock()
	h.cam.Zoom = h.limitZoom(zoom)
	h.mu.Unlock()
	h.moved(Point{})
}

func (h *Headless) moved(p Point) {
	h.emit(Event{Type: "movestart", ContainerPoint: p})
	h.emit(Event{Type: "move", ContainerPoint: p})
	h.emit(Event{Type: "moveend", ContainerPoint: p})
}

func (h *Headless) LatLngToContainerPoint(ll LatLng) Point {
	h.mu.Lock()
	defer h.mu.Unlock()
	px := h.cam.Project(toLngLat(ll))
	return Point{X: px.X, Y: px.Y}
}

func (h *Headless) ContainerPointToLatLng(p Point) LatLng {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fromLngLat(h.cam.Unproject(types.Pixel{X: p.X, Y: p.Y}))
}

func (h *Headless) GetBounds() LatLngBounds {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.cam.Bounds()
	return LatLngBounds{SouthWest: fromLngLat(b.SW), NorthEast: fromLngLat(b.NE)}
}

// FitBounds picks the largest snapped zoom at which b fits.
func (h *Headless) FitBounds(b LatLngBounds) {
	bound := orb.Bound{Min: toLngLat(b.SouthWest), Max: toLngLat(b.NorthEast)}
	h.mu.Lock()
	center, zoom := engine.FitZoom(bound, h.cam.Width, h.cam.Height, TileSize, 0)
	if h.snap > 0 {
		zoom = math.Floor(zoom/h.snap) * h.snap
	}
	h.cam.Center = center
	h.cam.Zoom = math.Max(h.minZoom, math.Min(h.maxZoom, zoom))
	h.mu.Unlock()
	h.moved(Point{})
}

func (h *Headless) AddLayer(l Layer) error {
	h.mu.Lock()
	if h.indexLocked(l.ID) >= 0 {
		h.mu.Unlock()
		return fmt.Errorf("leaflet: layer %q already on map", l.ID)
	}
	h.layers = append(h.layers, l)
	urls := h.loadLocked(l)
	tiled := l.Kind != KindGeoJSON && len(urls) > 0
	if tiled {
		h.loading[l.ID] = true
	}
	h.mu.Unlock()
	if tiled {
		h.emit(Event{Type: "loading", SourceID: l.SourceID})
	}
	return nil
}

func (h *Headless) loadLocked(l Layer) []string {
	var urls []string
	switch l.Kind {
	case KindGeoJSON:
		if u, ok := l.Data.(string); ok {
			urls = append(urls, u)
		}
	default:
		size := l.TileSize
		if size <= 0 {
			size = TileSize
		}
		z := tile.ZoomFor(h.cam.Zoom + math.Log2(float64(TileSize)/float64(size)))
		for _, c := range tile.TilesInBBox(types.BoundingBoxOf(h.cam.Bounds()), z) {
			if len(urls) == maxTileRequests {
				break
			}
			urls = append(urls, tileURL(l, c, size))
		}
	}
	h.requests = append(h.requests, urls...)
	return urls
}

// tileURL builds one request the way the engine's tile layers do.
func tileURL(l Layer, c tile.Coords, size int) string {
	if l.Kind != KindWMS {
		return catalog.ExpandTileURL(l.URL, c, l.Subdomains)
	}
	keys := make([]string, 0, len(l.WMSParams))
	for k := range l.WMSParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(l.URL)
	sep := "?"
	if strings.Contains(l.URL, "?") {
		sep = "&"
	}
	for _, k := range keys {
		b.WriteString(sep + url.QueryEscape(k) + "=" + url.QueryEscape(l.WMSParams[k]))
		sep = "&"
	}
	fmt.Fprintf(&b, "%sWIDTH=%d&HEIGHT=%d&BBOX=%s", sep, size, size, catalog.TileBBox(c))
	return b.String()
}

func (h *Headless) RemoveLayer(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("leaflet: layer %q not on map", id)
	}
	h.layers = append(h.layers[:i], h.layers[i+1:]...)
	delete(h.loading, id)
	return nil
}

func (h *Headless) HasLayer(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.indexLocked(id) >= 0
}

func (h *Headless) SetStyle(id string, style map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("leaflet: layer %q not on map", id)
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

func (h *Headless) On(typ string, fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.handlers[typ] == nil {
		h.handlers[typ] = make(map[uint64]func(Event))
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
	h.handlers = make(map[string]map[uint64]func(Event))
}

func (h *Headless) emit(e Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.handlers[e.Type]))
	for _, fn := range h.handlers[e.Type] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// Layers returns the layers in the order they were added.
func (h *Headless) Layers() []Layer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Layer(nil), h.layers...)
}

// Requests returns the URLs requested so far.
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

// MouseMove simulates the pointer moving over the map.
func (h *Headless) MouseMove(p Point) { h.emit(Event{Type: "mousemove", ContainerPoint: p}) }

// MouseOut simulates the pointer leaving the map.
func (h *Headless) MouseOut() { h.emit(Event{Type: "mouseout"}) }

// Click simulates a click.
func (h *Headless) Click(p Point) { h.emit(Event{Type: "click", ContainerPoint: p}) }

// DblClick simulates a double click.
func (h *Headless) DblClick(p Point) { h.emit(Event{Type: "dblclick", ContainerPoint: p}) }

// ContextMenu simulates a secondary click.
func (h *Headless) ContextMenu(p Point) { h.emit(Event{Type: "contextmenu", ContainerPoint: p}) }

// DragPan simulates dragging the map content from one point to another.
func (h *Headless) DragPan(from, to Point, steps int) {
	if steps < 1 {
		steps = 1
	}
	h.emit(Event{Type: "dragstart", ContainerPoint: from})
	h.emit(Event{Type: "movestart", ContainerPoint: from})
	prev := from
	for i := 1; i <= steps; i++ {
		f := float64(i) / float64(steps)
		cur := Point{X: from.X + (to.X-from.X)*f, Y: from.Y + (to.Y-from.Y)*f}
		h.mu.Lock()
		h.cam.Center = h.cam.PanBy(cur.X-prev.X, cur.Y-prev.Y)
		h.mu.Unlock()
		prev = cur
		h.emit(Event{Type: "drag", ContainerPoint: cur})
		h.emit(Event{Type: "move", ContainerPoint: cur})
	}
	h.emit(Event{Type: "dragend", ContainerPoint: to})
	h.emit(Event{Type: "moveend", ContainerPoint: to})
}

// Idle fires load for every loading tile layer.
func (h *Headless) Idle() {
	h.mu.Lock()
	var sources []string
	for _, l := range h.layers {
		if h.loading[l.ID] {
			sources = append(sources, l.SourceID)
		}
	}
	h.loading = make(map[string]bool)
	h.mu.Unlock()
	for _, id := range sources {
		h.emit(Event{Type: "load", SourceID: id})
	}
}
