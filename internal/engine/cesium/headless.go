package cesium

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/geo"
	"github.com/MeKo-Tech/mapbridge/internal/tile"
	"github.com/MeKo-Tech/mapbridge/internal/types"
)

// Headless is a deterministic in-memory viewer with an exact ellipsoid
// camera. Imagery tiles are queued on add and drained by Idle.
type Headless struct {
	mu          sync.Mutex
	width       int
	height      int
	target      Cartographic
	offset      HeadingPitchRange
	minDistance float64
	maxDistance float64
	imagery     []ImageryLayer
	data        []GeoJSONDataSource
	queue       int
	requests    []string
	handlers    map[string]map[uint64]func(ScreenSpaceEvent)
	nextID      uint64
	destroyed   bool
}

var _ Viewer = (*Headless)(nil)

// NewHeadless creates a headless viewer.
func NewHeadless(o ViewerOptions) *Headless {
	h := &Headless{
		width:       o.Width,
		height:      o.Height,
		minDistance: o.MinDistance,
		maxDistance: o.MaxDistance,
		handlers:    make(map[string]map[uint64]func(ScreenSpaceEvent)),
	}
	if h.minDistance <= 0 {
		h.minDistance = DefaultMinDistance
	}
	if h.maxDistance <= 0 {
		h.maxDistance = DefaultMaxDistance
	}
	h.target = Cartographic{Longitude: o.Target.Longitude, Latitude: o.Target.Latitude}
	h.offset = h.constrain(o.Offset)
	return h
}

// HeadlessLoader is a Loader that builds Headless viewers.
func HeadlessLoader(o ViewerOptions) (Viewer, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return nil, fmt.Errorf("cesium: invalid canvas %dx%d", o.Width, o.Height)
	}
	return NewHeadless(o), nil
}

func (h *Headless) constrain(o HeadingPitchRange) HeadingPitchRange {
	o.Pitch = math.Max(-math.Pi/2, math.Min(0, o.Pitch))
	o.Range = math.Max(h.minDistance, math.Min(h.maxDistance, o.Range))
	return o
}

func (h *Headless) frameLocked() frame {
	return newFrame(h.target, h.offset, h.width, h.height)
}

func (h *Headless) Canvas() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.width, h.height
}

func (h *Headless) LookAt(target Cartesian3, offset HeadingPitchRange) {
	c := ToCartographic(target)
	h.mu.Lock()
	h.target = Cartographic{Longitude: c.Longitude, Latitude: c.Latitude}
	h.offset = h.constrain(offset)
	h.mu.Unlock()
	h.emit(ScreenSpaceEvent{Type: "camera.moveStart"})
	h.emit(ScreenSpaceEvent{Type: "camera.changed"})
	h.emit(ScreenSpaceEvent{Type: "camera.moveEnd"})
}

func (h *Headless) Heading() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offset.Heading
}

func (h *Headless) Pitch() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offset.Pitch
}

func (h *Headless) CameraPosition() Cartesian3 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frameLocked().position
}

func (h *Headless) PickEllipsoid(win Cartesian2) (Cartesian3, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frameLocked().pick(win)
}

func (h *Headless) WorldToWindowCoordinates(p Cartesian3) (Cartesian2, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frameLocked().toWindow(p)
}

func (h *Headless) SetZoomDistanceLimits(min, max float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.minDistance, h.maxDistance = min, max
}

func (h *Headless) AddImageryLayer(l ImageryLayer) error {
	h.mu.Lock()
	if h.imageryIndexLocked(l.ID) >= 0 {
		h.mu.Unlock()
		return fmt.Errorf("cesium: imagery layer %q already added", l.ID)
	}
	h.imagery = append(h.imagery, l)
	urls := h.tileRequestsLocked(l.Provider)
	h.requests = append(h.requests, urls...)
	h.queue += len(urls)
	queue := h.queue
	h.mu.Unlock()
	if len(urls) > 0 {
		h.emit(ScreenSpaceEvent{Type: "globe.tileLoadProgress", QueueLength: queue})
	}
	return nil
}

// tileRequestsLocked lists the tiles covering the picked footprint, or the
// whole world when a corner misses the globe.
func (h *Headless) tileRequestsLocked(p ImageryProvider) []string {
	f := h.frameLocked()
	bbox := types.BoundingBox{MinLon: -180, MinLat: -geo.MaxLatitude, MaxLon: 180, MaxLat: geo.MaxLatitude}
	corners := []Cartesian2{{0, 0}, {f.width, 0}, {f.width, f.height}, {0, f.height}}
	box := types.BoundingBox{MinLon: 180, MinLat: 90, MaxLon: -180, MaxLat: -90}
	hitAll := true
	for _, c := range corners {
		pt, ok := f.pick(c)
		if !ok {
			hitAll = false
			break
		}
		lon, lat := ToCartographic(pt).Degrees()
		box.MinLon, box.MaxLon = math.Min(box.MinLon, lon), math.Max(box.MaxLon, lon)
		box.MinLat, box.MaxLat = math.Min(box.MinLat, lat), math.Max(box.MaxLat, lat)
	}
	if hitAll {
		bbox = box
	}
	zoom := ZoomForDistance(h.offset.Range, h.target.Latitude*180/math.Pi, h.height)
	var urls []string
	for _, c := range tile.TilesInBBox(bbox, tile.ZoomFor(zoom)) {
		if len(urls) == maxTileRequests {
			break
		}
		urls = append(urls, imageryURL(p, c))
	}
	return urls
}

func imageryURL(p ImageryProvider, c tile.Coords) string {
	if p.Kind != ProviderWMS {
		return catalog.ExpandTileURL(p.URL, c, p.Subdomains)
	}
	params := map[string]string{"layers": p.Layers}
	for k, v := range p.Parameters {
		params[strings.ToLower(k)] = v
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(p.URL)
	sep := "?"
	if strings.Contains(p.URL, "?") {
		sep = "&"
	}
	for _, k := range keys {
		b.WriteString(sep + k + "=" + url.QueryEscape(params[k]))
		sep = "&"
	}
	size := p.TileWidth
	if size <= 0 {
		size = ImageryTileSize
	}
	fmt.Fprintf(&b, "%swidth=%d&height=%d&bbox=%s", sep, size, size, catalog.TileBBox(c))
	return b.String()
}

func (h *Headless) RemoveImageryLayer(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.imageryIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("cesium: imagery layer %q not found", id)
	}
	h.imagery = append(h.imagery[:i], h.imagery[i+1:]...)
	return nil
}

func (h *Headless) HasImageryLayer(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.imageryIndexLocked(id) >= 0
}

func (h *Headless) imageryIndexLocked(id string) int {
	for i, l := range h.imagery {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (h *Headless) AddDataSource(ds GeoJSONDataSource) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dataIndexLocked(ds.ID) >= 0 {
		return fmt.Errorf("cesium: data source %q already added", ds.ID)
	}
	h.data = append(h.data, ds)
	if u, ok := ds.Data.(string); ok {
		h.requests = append(h.requests, u)
	} else if ds.Data == nil && ds.URL != "" {
		h.requests = append(h.requests, ds.URL)
	}
	return nil
}

func (h *Headless) RemoveDataSource(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := h.dataIndexLocked(id)
	if i < 0 {
		return fmt.Errorf("cesium: data source %q not found", id)
	}
	h.data = append(h.data[:i], h.data[i+1:]...)
	return nil
}

func (h *Headless) HasDataSource(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dataIndexLocked(id) >= 0
}

func (h *Headless) dataIndexLocked(id string) int {
	for i, d := range h.data {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (h *Headless) SetLayerStyle(id string, style map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i := h.imageryIndexLocked(id); i >= 0 {
		h.imagery[i].Style = style
		return nil
	}
	if i := h.dataIndexLocked(id); i >= 0 {
		h.data[i].Style = style
		return nil
	}
	return fmt.Errorf("cesium: layer %q not found", id)
}

func (h *Headless) On(typ string, fn func(ScreenSpaceEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	if h.handlers[typ] == nil {
		h.handlers[typ] = make(map[uint64]func(ScreenSpaceEvent))
	}
	h.handlers[typ][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.handlers[typ], id)
	}
}

func (h *Headless) Destroy() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
	h.handlers = make(map[string]map[uint64]func(ScreenSpaceEvent))
}

func (h *Headless) emit(e ScreenSpaceEvent) {
	h.mu.Lock()
	fns := make([]func(ScreenSpaceEvent), 0, len(h.handlers[e.Type]))
	for _, fn := range h.handlers[e.Type] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// Imagery returns the imagery layers in draw order.
func (h *Headless) Imagery() []ImageryLayer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ImageryLayer(nil), h.imagery...)
}

// DataSources returns the loaded data sources.
func (h *Headless) DataSources() []GeoJSONDataSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]GeoJSONDataSource(nil), h.data...)
}

// Requests returns the URLs requested so far.
func (h *Headless) Requests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.requests...)
}

// Destroyed reports whether Destroy was called.
func (h *Headless) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// MouseMove simulates the pointer moving over the canvas.
func (h *Headless) MouseMove(win Cartesian2) {
	h.emit(ScreenSpaceEvent{Type: "MOUSE_MOVE", Position: win})
}

// MouseOut simulates the pointer leaving the canvas.
func (h *Headless) MouseOut() { h.emit(ScreenSpaceEvent{Type: "mouseout"}) }

// LeftClick simulates a primary click.
func (h *Headless) LeftClick(win Cartesian2) {
	h.emit(ScreenSpaceEvent{Type: "LEFT_CLICK", Position: win})
}

// LeftDoubleClick simulates a double click.
func (h *Headless) LeftDoubleClick(win Cartesian2) {
	h.emit(ScreenSpaceEvent{Type: "LEFT_DOUBLE_CLICK", Position: win})
}

// RightClick simulates a secondary click.
func (h *Headless) RightClick(win Cartesian2) {
	h.emit(ScreenSpaceEvent{Type: "RIGHT_CLICK", Position: win})
}

// DragPan simulates rotating the globe so that the point under from ends
// under to.
func (h *Headless) DragPan(from, to Cartesian2, steps int) {
	if steps < 1 {
		steps = 1
	}
	h.emit(ScreenSpaceEvent{Type: "LEFT_DOWN", Position: from})
	h.emit(ScreenSpaceEvent{Type: "camera.moveStart"})
	prev := from
	for i := 1; i <= steps; i++ {
		f := float64(i) / float64(steps)
		cur := Cartesian2{X: from.X + (to.X-from.X)*f, Y: from.Y + (to.Y-from.Y)*f}
		h.mu.Lock()
		fr := h.frameLocked()
		a, okA := fr.pick(prev)
		b, okB := fr.pick(cur)
		if okA && okB {
			ca, cb := ToCartographic(a), ToCartographic(b)
			h.target.Longitude += ca.Longitude - cb.Longitude
			lat := h.target.Latitude + ca.Latitude - cb.Latitude
			h.target.Latitude = math.Max(-math.Pi/2, math.Min(math.Pi/2, lat))
		}
		h.mu.Unlock()
		prev = cur
		h.emit(ScreenSpaceEvent{Type: "MOUSE_MOVE", Position: cur})
		h.emit(ScreenSpaceEvent{Type: "camera.changed"})
	}
	h.emit(ScreenSpaceEvent{Type: "LEFT_UP", Position: to})
	h.emit(ScreenSpaceEvent{Type: "camera.moveEnd"})
}

// ScrollZoom simulates zooming in by delta native levels.
func (h *Headless) ScrollZoom(delta float64) {
	h.mu.Lock()
	o := h.offset
	o.Range /= math.Exp2(delta)
	h.offset = h.constrain(o)
	h.mu.Unlock()
	h.emit(ScreenSpaceEvent{Type: "camera.moveStart"})
	h.emit(ScreenSpaceEvent{Type: "camera.changed"})
	h.emit(ScreenSpaceEvent{Type: "camera.moveEnd"})
}

// Idle drains the tile queue.
func (h *Headless) Idle() {
	h.mu.Lock()
	h.queue = 0
	h.mu.Unlock()
	h.emit(ScreenSpaceEvent{Type: "globe.tileLoadProgress", QueueLength: 0})
}
