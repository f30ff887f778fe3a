package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/event"
	"github.com/MeKo-Tech/mapbridge/internal/geo"
	"github.com/MeKo-Tech/mapbridge/internal/state"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

const (
	// resolutionEpsilon floors sampled degrees-per-pixel values.
	resolutionEpsilon = 1e-12

	// maxSyncDepth bounds re-entrant viewport syncs.
	maxSyncDepth = 3

	zoomEpsilon = 1e-9
)

// Normalizer implements Core on top of a Driver. It owns every conversion
// between native and canonical values and translates native events into
// bus events and store dispatches.
type Normalizer struct {
	profile Profile
	driver  Driver
	store   *state.Store
	bus     *event.Bus
	logger  *slog.Logger

	pointerThrottle *event.Throttle
	viewThrottle    *event.Throttle

	mu          sync.Mutex
	initialized bool
	destroyed   bool
	container   Container
	minZoom     *float64
	maxZoom     *float64
	moving      bool
	dragOrigin  *types.LngLat
	loading     map[string]bool
	suppressed  map[string]bool
	busy        bool
	zoomEnd     map[uint64]func(float64)
	nextZoomEnd uint64
	lastZoomEnd float64
	syncDepth   int
	unlisten    func()
}

var _ Core = (*Normalizer)(nil)

// NewNormalizer wires a driver to the store and bus in deps.
func NewNormalizer(profile Profile, driver Driver, deps Deps) *Normalizer {
	deps = deps.WithDefaults()
	return &Normalizer{
		profile:         profile,
		driver:          driver,
		store:           deps.Store,
		bus:             deps.Bus,
		logger:          deps.Logger.With("component", "engine", "engine", profile.Name),
		pointerThrottle: event.NewThrottle(deps.Throttle, deps.Clock),
		viewThrottle:    event.NewThrottle(deps.Throttle, deps.Clock),
		loading:         make(map[string]bool),
		suppressed:      make(map[string]bool),
		zoomEnd:         make(map[uint64]func(float64)),
	}
}

// Profile returns the engine profile.
func (n *Normalizer) Profile() Profile { return n.profile }

// ToCanonicalZoom converts a native zoom to the canonical convention.
func (n *Normalizer) ToCanonicalZoom(native float64) float64 {
	return native - n.profile.ZoomOffset
}

// ToNativeZoom converts a canonical zoom to the engine's convention.
func (n *Normalizer) ToNativeZoom(canonical float64) float64 {
	return canonical + n.profile.ZoomOffset
}

func (n *Normalizer) nativePtr(z *float64) *float64 {
	if z == nil {
		return nil
	}
	v := n.ToNativeZoom(*z)
	return &v
}

// Initialize mounts the engine and publishes the initial state with
// SourceInit.
func (n *Normalizer) Initialize(ctx context.Context, c Container, opts Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("initialize %s: container size %dx%d must be positive", n.profile.Name, c.Width, c.Height)
	}
	if opts.MinZoom != nil && opts.MaxZoom != nil && *opts.MinZoom > *opts.MaxZoom {
		return fmt.Errorf("initialize %s: min zoom %.2f above max zoom %.2f", n.profile.Name, *opts.MinZoom, *opts.MaxZoom)
	}
	if !validLngLat(opts.Center) || math.IsNaN(opts.Zoom) {
		return fmt.Errorf("initialize %s: invalid viewport %v zoom %v", n.profile.Name, opts.Center, opts.Zoom)
	}

	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return ErrDestroyed
	}
	if n.initialized {
		n.mu.Unlock()
		return fmt.Errorf("initialize %s: already initialized", n.profile.Name)
	}
	n.container = c
	n.minZoom = opts.MinZoom
	n.maxZoom = opts.MaxZoom
	zoom := n.clampLocked(opts.Zoom)
	n.mu.Unlock()

	center := types.LngLat{geo.WrapLongitude(opts.Center.Lon()), geo.ClampLatitude(opts.Center.Lat())}
	err := n.driver.Mount(MountOptions{
		Container: c,
		Camera:    Camera{Center: center, Zoom: n.ToNativeZoom(zoom)},
		MinZoom:   n.nativePtr(opts.MinZoom),
		MaxZoom:   n.nativePtr(opts.MaxZoom),
		Style:     opts.Style,
		StyleURL:  opts.StyleURL,
	})
	if err != nil {
		return fmt.Errorf("initialize %s: %w", n.profile.Name, err)
	}

	unlisten := n.driver.Listen(n.handle)
	cam := n.driver.Camera()

	n.mu.Lock()
	n.initialized = true
	n.unlisten = unlisten
	n.lastZoomEnd = n.ToCanonicalZoom(cam.Zoom)
	n.mu.Unlock()

	n.store.Dispatch(n.viewportPatch(cam).SetMapLoaded(true), state.SourceInit)
	n.logger.Debug("engine initialized", "op", "initialize", "zoom", n.ToCanonicalZoom(cam.Zoom), "center", cam.Center)
	return nil
}

// Container returns the size the engine was mounted with.
func (n *Normalizer) Container() Container {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.container
}

func (n *Normalizer) ready() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch {
	case n.destroyed:
		return ErrDestroyed
	case !n.initialized:
		return ErrNotInitialized
	}
	return nil
}

func (n *Normalizer) clampLocked(z float64) float64 {
	if n.minZoom != nil && z < *n.minZoom {
		z = *n.minZoom
	}
	if n.maxZoom != nil && z > *n.maxZoom {
		z = *n.maxZoom
	}
	return z
}

func (n *Normalizer) clamp(z float64) float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clampLocked(z)
}

// ViewportState returns the canonical camera.
func (n *Normalizer) ViewportState() types.Viewport {
	if n.ready() != nil {
		return types.Viewport{}
	}
	cam := n.driver.Camera()
	return types.Viewport{
		Center:  cam.Center,
		Zoom:    n.ToCanonicalZoom(cam.Zoom),
		Bearing: cam.Bearing,
		Pitch:   cam.Pitch,
	}
}

// SetViewport moves the camera to center at the clamped canonical zoom.
func (n *Normalizer) SetViewport(center types.LngLat, zoom float64) error {
	if err := n.ready(); err != nil {
		return err
	}
	if !validLngLat(center) || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return fmt.Errorf("set viewport: invalid center %v or zoom %v", center, zoom)
	}
	requested := n.clamp(zoom)
	center = types.LngLat{geo.WrapLongitude(center.Lon()), geo.ClampLatitude(center.Lat())}
	if err := n.driver.JumpTo(center, n.ToNativeZoom(requested)); err != nil {
		n.logger.Error("native jump failed", "op", "set_viewport", "error", err)
		return fmt.Errorf("set viewport: %w", err)
	}
	n.settle("set_viewport", requested)
	return nil
}

// SetZoom sets the clamped canonical zoom.
func (n *Normalizer) SetZoom(zoom float64) error {
	if err := n.ready(); err != nil {
		return err
	}
	if math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return fmt.Errorf("set zoom: invalid zoom %v", zoom)
	}
	requested := n.clamp(zoom)
	if err := n.driver.SetZoom(n.ToNativeZoom(requested)); err != nil {
		n.logger.Error("native zoom failed", "op", "set_zoom", "error", err)
		return fmt.Errorf("set zoom: %w", err)
	}
	n.settle("set_zoom", requested)
	return nil
}

// settle re-reads the camera after a write. When the engine's own limits
// moved the camera away from the requested zoom, the settled value is what
// ends up in the store.
func (n *Normalizer) settle(op string, requested float64) {
	cam := n.driver.Camera()
	if actual := n.ToCanonicalZoom(cam.Zoom); math.Abs(actual-requested) > zoomEpsilon {
		n.logger.Debug("engine corrected zoom", "op", op, "requested", requested, "actual", actual)
	}
	n.syncIfStale()
}

// Zoom returns the canonical zoom.
func (n *Normalizer) Zoom() float64 {
	if n.ready() != nil {
		return 0
	}
	return n.ToCanonicalZoom(n.driver.Camera().Zoom)
}

// OnZoomEnd registers fn for zoom-end notifications.
func (n *Normalizer) OnZoomEnd(fn func(zoom float64)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextZoomEnd++
	id := n.nextZoomEnd
	n.zoomEnd[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.zoomEnd, id)
	}
}

// Capabilities reports optional camera controls.
func (n *Normalizer) Capabilities() Capabilities { return n.profile.Capabilities }

// SetBearing rotates the map. Degrees clockwise from north.
func (n *Normalizer) SetBearing(deg float64) error {
	if !n.profile.Capabilities.Bearing {
		return ErrNotSupported
	}
	if err := n.ready(); err != nil {
		return err
	}
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return fmt.Errorf("set bearing: invalid bearing %v", deg)
	}
	if err := n.driver.SetBearing(normalizeBearing(deg)); err != nil {
		return fmt.Errorf("set bearing: %w", err)
	}
	n.syncIfStale()
	return nil
}

// Bearing returns the bearing in degrees, 0 when unsupported.
func (n *Normalizer) Bearing() float64 {
	if !n.profile.Capabilities.Bearing || n.ready() != nil {
		return 0
	}
	return n.driver.Camera().Bearing
}

// SetPitch tilts the map. Degrees away from straight down.
func (n *Normalizer) SetPitch(deg float64) error {
	if !n.profile.Capabilities.Pitch {
		return ErrNotSupported
	}
	if err := n.ready(); err != nil {
		return err
	}
	if math.IsNaN(deg) || deg < 0 {
		return fmt.Errorf("set pitch: invalid pitch %v", deg)
	}
	if err := n.driver.SetPitch(deg); err != nil {
		return fmt.Errorf("set pitch: %w", err)
	}
	n.syncIfStale()
	return nil
}

// Pitch returns the pitch in degrees, 0 when unsupported.
func (n *Normalizer) Pitch() float64 {
	if !n.profile.Capabilities.Pitch || n.ready() != nil {
		return 0
	}
	return n.driver.Camera().Pitch
}

// ResetNorth sets the bearing to 0. Engines without rotation are always
// north-up, so it is a no-op for them.
func (n *Normalizer) ResetNorth() error {
	if !n.profile.Capabilities.Bearing {
		return nil
	}
	return n.SetBearing(0)
}

// ResetNorthPitch resets bearing and pitch.
func (n *Normalizer) ResetNorthPitch() error {
	if err := n.ResetNorth(); err != nil {
		return err
	}
	if !n.profile.Capabilities.Pitch {
		return nil
	}
	return n.SetPitch(0)
}

// Project converts a position to a container pixel.
func (n *Normalizer) Project(p types.LngLat) (types.Pixel, bool) {
	if n.ready() != nil || !validLngLat(p) {
		return types.Pixel{}, false
	}
	return n.driver.Project(p)
}

// Unproject converts a container pixel to a position. ok is false when the
// pixel does not hit the map surface.
func (n *Normalizer) Unproject(px types.Pixel) (types.LngLat, bool) {
	if n.ready() != nil {
		return types.LngLat{}, false
	}
	ll, ok := n.driver.Unproject(px)
	if !ok || !validLngLat(ll) {
		return types.LngLat{}, false
	}
	return ll, true
}

// FitBounds moves the camera so b is visible, honouring the zoom limits.
func (n *Normalizer) FitBounds(b types.BoundingBox) error {
	if err := n.ready(); err != nil {
		return err
	}
	if !b.Valid() {
		return fmt.Errorf("fit bounds: invalid %s", b)
	}
	if err := n.driver.FitBounds(b.Bound()); err != nil {
		return fmt.Errorf("fit bounds: %w", err)
	}
	zoom := n.ToCanonicalZoom(n.driver.Camera().Zoom)
	if clamped := n.clamp(zoom); clamped != zoom {
		if err := n.driver.SetZoom(n.ToNativeZoom(clamped)); err != nil {
			return fmt.Errorf("fit bounds: %w", err)
		}
	}
	n.syncIfStale()
	return nil
}

// SuppressBusySignalForSource stops loading activity of source id from
// setting mapBusy.
func (n *Normalizer) SuppressBusySignalForSource(id string) {
	n.mu.Lock()
	n.suppressed[id] = true
	delete(n.loading, id)
	n.mu.Unlock()
	n.updateBusy()
}

// UnsuppressBusySignalForSource reverses SuppressBusySignalForSource.
func (n *Normalizer) UnsuppressBusySignalForSource(id string) {
	n.mu.Lock()
	delete(n.suppressed, id)
	n.mu.Unlock()
}

// LatitudeAtPixelRow returns the latitude shown at screen row y along the
// camera's center meridian.
func (n *Normalizer) LatitudeAtPixelRow(y float64) (float64, bool) {
	if n.ready() != nil {
		return 0, false
	}
	lng := n.driver.Camera().Center.Lon()
	return geo.LatitudeAtPixelRow(func(lat float64) (float64, bool) {
		px, ok := n.driver.Project(types.LngLat{lng, lat})
		return px.Y, ok
	}, y)
}

// Destroy detaches native listeners and releases the engine. The store is
// told the map is gone.
func (n *Normalizer) Destroy() {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.destroyed = true
	unlisten := n.unlisten
	n.unlisten = nil
	wasInitialized := n.initialized
	n.zoomEnd = make(map[uint64]func(float64))
	n.mu.Unlock()

	n.pointerThrottle.Cancel()
	n.viewThrottle.Cancel()
	if unlisten != nil {
		unlisten()
	}
	n.driver.Destroy()
	if wasInitialized {
		n.store.Dispatch(state.Patch{}.
			SetMapLoaded(false).
			SetMapBusy(false).
			SetPointerCoordinates(nil).
			SetPointerResolution(nil), state.SourceMap)
	}
}

func (n *Normalizer) handle(r Raw) {
	n.mu.Lock()
	dead := n.destroyed
	n.mu.Unlock()
	if dead {
		return
	}

	switch r.Kind {
	case RawPointerMove:
		px := r.Pixel
		n.pointerThrottle.Do(func() { n.pointerMove(px) })

	case RawPointerLeave:
		n.pointerThrottle.Cancel()
		n.store.Dispatch(state.Patch{}.SetPointerCoordinates(nil).SetPointerResolution(nil), state.SourceMap)
		n.bus.Emit(event.PointerLeave{})

	case RawClick:
		n.pointerThrottle.Flush()
		p := n.pointer(r.Pixel)
		n.store.Dispatch(state.Patch{}.
			SetLastClickedCoordinates(p.Coords).
			SetLastClickedResolution(p.Resolution), state.SourceMap)
		n.bus.Emit(event.Click{Pointer: p})

	case RawDoubleClick:
		n.bus.Emit(event.DoubleClick{Pointer: n.pointer(r.Pixel)})

	case RawContextMenu:
		n.bus.Emit(event.ContextMenu{Pointer: n.pointer(r.Pixel)})

	case RawDragStart:
		coords := n.coords(r.Pixel)
		n.mu.Lock()
		n.dragOrigin = coords
		n.mu.Unlock()
		n.bus.Emit(event.DragStart{Coords: coords, Pixel: r.Pixel})

	case RawDrag:
		n.mu.Lock()
		origin := n.dragOrigin
		n.mu.Unlock()
		n.bus.Emit(event.Drag{Coords: n.coords(r.Pixel), Pixel: r.Pixel, Origin: origin})

	case RawDragEnd:
		n.mu.Lock()
		origin := n.dragOrigin
		n.dragOrigin = nil
		n.mu.Unlock()
		n.bus.Emit(event.DragEnd{Coords: n.coords(r.Pixel), Pixel: r.Pixel, Origin: origin})

	case RawMoveStart:
		n.mu.Lock()
		n.moving = true
		n.mu.Unlock()

	case RawMove:
		n.mu.Lock()
		n.moving = true
		n.mu.Unlock()
		v := n.view(n.driver.Camera())
		n.viewThrottle.Do(func() { n.bus.Emit(event.ViewChange{View: v}) })

	case RawMoveEnd:
		n.moveEnd()

	case RawSourceLoading:
		n.mu.Lock()
		if !n.suppressed[r.SourceID] {
			n.loading[r.SourceID] = true
		}
		n.mu.Unlock()
		n.updateBusy()

	case RawSourceIdle:
		n.mu.Lock()
		if r.SourceID == "" {
			n.loading = make(map[string]bool)
		} else {
			delete(n.loading, r.SourceID)
		}
		n.mu.Unlock()
		n.updateBusy()

	default:
		n.logger.Warn("unknown native event", "op", "handle", "kind", int(r.Kind))
	}
}

func (n *Normalizer) pointerMove(px types.Pixel) {
	p := n.pointer(px)
	n.store.Dispatch(state.Patch{}.
		SetPointerCoordinates(p.Coords).
		SetPointerResolution(p.Resolution), state.SourceMap)
	n.bus.Emit(event.PointerMove{Pointer: p})
}

// moveEnd closes the current camera movement. Duplicate end notifications
// without an intervening move are dropped so view-change-end fires once.
func (n *Normalizer) moveEnd() {
	n.mu.Lock()
	if !n.moving {
		n.mu.Unlock()
		return
	}
	n.moving = false
	n.mu.Unlock()

	n.viewThrottle.Flush()
	cam := n.driver.Camera()
	n.syncViewport(cam)
	n.bus.Emit(event.ViewChangeEnd{View: n.view(cam)})

	zoom := n.ToCanonicalZoom(cam.Zoom)
	n.mu.Lock()
	changed := math.Abs(zoom-n.lastZoomEnd) > zoomEpsilon
	n.lastZoomEnd = zoom
	var fns []func(float64)
	if changed {
		for _, fn := range n.zoomEnd {
			fns = append(fns, fn)
		}
	}
	n.mu.Unlock()
	for _, fn := range fns {
		n.callZoomEnd(fn, zoom)
	}
}

func (n *Normalizer) callZoomEnd(fn func(float64), zoom float64) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("zoom end callback failed", "op", "zoom_end", "error", fmt.Sprint(r))
		}
	}()
	fn(zoom)
}

// syncIfStale dispatches the camera when the store does not reflect it.
func (n *Normalizer) syncIfStale() {
	cam := n.driver.Camera()
	s := n.store.State()
	zoom, ok := s.Zoom()
	if ok && s.MapCenter != nil &&
		math.Abs(zoom-n.ToCanonicalZoom(cam.Zoom)) <= zoomEpsilon &&
		*s.MapCenter == cam.Center &&
		s.MapViewportBounds.Equal(n.viewportPolygon()) {
		return
	}
	n.syncViewport(cam)
}

// syncViewport publishes cam with SourceMap. Listeners may move the camera
// again while being notified; the settled camera is then re-published,
// bounded by maxSyncDepth.
func (n *Normalizer) syncViewport(cam Camera) {
	n.mu.Lock()
	if n.syncDepth >= maxSyncDepth {
		n.mu.Unlock()
		n.logger.Warn("viewport sync depth exceeded", "op", "sync")
		return
	}
	n.syncDepth++
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.syncDepth--
		n.mu.Unlock()
	}()

	n.store.Dispatch(n.viewportPatch(cam), state.SourceMap)
	if after := n.driver.Camera(); after != cam {
		n.syncViewport(after)
	}
}

func (n *Normalizer) viewportPatch(cam Camera) state.Patch {
	center := cam.Center
	return state.Patch{}.
		SetZoomLevel(state.Ptr(n.ToCanonicalZoom(cam.Zoom))).
		SetMapCenter(&center).
		SetMapViewportBounds(n.viewportPolygon())
}

// viewportPolygon returns the visible footprint, or nil when it cannot be
// computed.
func (n *Normalizer) viewportPolygon() orb.Polygon {
	if !n.profile.Globe {
		b, ok := n.driver.Bounds()
		if !ok {
			return nil
		}
		return b.Bound().ToPolygon()
	}

	c := n.Container()
	w, h := float64(c.Width), float64(c.Height)
	corners := []types.Pixel{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
	ring := make(orb.Ring, 0, len(corners)+1)
	for _, px := range corners {
		ll, ok := n.driver.Unproject(px)
		if !ok || !validLngLat(ll) {
			return nil
		}
		ring = append(ring, ll)
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func (n *Normalizer) view(cam Camera) event.View {
	v := event.View{
		Center:  cam.Center,
		Zoom:    n.ToCanonicalZoom(cam.Zoom),
		Bearing: cam.Bearing,
		Pitch:   cam.Pitch,
	}
	if b, ok := types.BoundsOfPolygon(n.viewportPolygon()); ok {
		v.Bounds = &b
	}
	return v
}

func (n *Normalizer) coords(px types.Pixel) *types.LngLat {
	ll, ok := n.driver.Unproject(px)
	if !ok || !validLngLat(ll) {
		return nil
	}
	return &ll
}

// pointer resolves a pixel to coordinates and degrees-per-pixel by sampling
// one pixel to the right and one pixel down.
func (n *Normalizer) pointer(px types.Pixel) event.Pointer {
	p := event.Pointer{Pixel: px}
	ll := n.coords(px)
	if ll == nil {
		return p
	}
	p.Coords = ll

	right := n.coords(px.Add(1, 0))
	down := n.coords(px.Add(0, 1))
	if right == nil || down == nil {
		return p
	}
	dLng := math.Abs(right.Lon() - ll.Lon())
	if dLng > 180 {
		dLng = 360 - dLng
	}
	dLat := math.Abs(down.Lat() - ll.Lat())
	p.Resolution = &types.Resolution{
		Lng: math.Max(dLng, resolutionEpsilon),
		Lat: math.Max(dLat, resolutionEpsilon),
	}
	return p
}

func (n *Normalizer) updateBusy() {
	n.mu.Lock()
	busy := len(n.loading) > 0
	changed := busy != n.busy
	n.busy = busy
	n.mu.Unlock()
	if changed {
		n.store.Dispatch(state.Patch{}.SetMapBusy(busy), state.SourceMap)
	}
}

func validLngLat(p types.LngLat) bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return p.Lat() >= -90 && p.Lat() <= 90
}

// normalizeBearing maps deg into (-180, 180].
func normalizeBearing(deg float64) float64 {
	b := math.Mod(deg, 360)
	if b > 180 {
		b -= 360
	} else if b <= -180 {
		b += 360
	}
	return b
}
