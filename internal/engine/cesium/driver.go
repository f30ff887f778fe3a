package cesium

import (
	"fmt"
	"math"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/geo"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

// Profile describes the engine to the normalizer.
var Profile = engine.Profile{
	Name:         "cesium",
	ZoomOffset:   1,
	Capabilities: engine.Capabilities{Bearing: true, Pitch: true},
	Globe:        true,
}

const rad = math.Pi / 180

// Driver implements engine.Driver on a Viewer. Camera readings pick the
// canvas center; when it misses the globe the point below the camera is
// used instead.
type Driver struct {
	load Loader

	mu       sync.Mutex
	viewer   Viewer
	minZoom  *float64
	maxZoom  *float64
	down     *types.Pixel
	dragging bool
}

var _ engine.Driver = (*Driver)(nil)

// NewDriver returns a driver that creates its viewer with load on Mount.
func NewDriver(load Loader) *Driver {
	if load == nil {
		load = HeadlessLoader
	}
	return &Driver{load: load}
}

// Viewer returns the mounted viewer, or nil before Mount.
func (d *Driver) Viewer() Viewer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewer
}

func (d *Driver) get() (Viewer, error) {
	if v := d.Viewer(); v != nil {
		return v, nil
	}
	return nil, engine.ErrNotInitialized
}

func (d *Driver) Mount(opts engine.MountOptions) error {
	c := opts.Camera.Center
	h := opts.Container.Height
	vo := ViewerOptions{
		Width:  opts.Container.Width,
		Height: h,
		Target: FromDegrees(c.Lon(), c.Lat()),
		Offset: HeadingPitchRange{
			Heading: opts.Camera.Bearing * rad,
			Pitch:   (opts.Camera.Pitch - 90) * rad,
			Range:   DistanceForZoom(opts.Camera.Zoom, c.Lat(), h),
		},
	}
	d.mu.Lock()
	d.minZoom, d.maxZoom = opts.MinZoom, opts.MaxZoom
	d.mu.Unlock()
	vo.MinDistance, vo.MaxDistance = d.distanceLimits(c.Lat(), h)
	v, err := d.load(vo)
	if err != nil {
		return fmt.Errorf("cesium: load: %w", err)
	}
	d.mu.Lock()
	d.viewer = v
	d.mu.Unlock()
	return nil
}

// distanceLimits converts the zoom limits into camera distances at lat.
// The same zoom needs a shorter distance towards the poles, so the limits
// follow the camera target.
func (d *Driver) distanceLimits(lat float64, height int) (near, far float64) {
	d.mu.Lock()
	minZoom, maxZoom := d.minZoom, d.maxZoom
	d.mu.Unlock()
	near, far = DefaultMinDistance, DefaultMaxDistance
	if maxZoom != nil {
		near = DistanceForZoom(*maxZoom, lat, height)
	}
	if minZoom != nil {
		far = DistanceForZoom(*minZoom, lat, height)
	}
	return near, far
}

// target returns the point the camera looks at and its distance.
func target(v Viewer) (Cartographic, float64) {
	w, h := v.Canvas()
	pos := v.CameraPosition()
	if p, ok := v.PickEllipsoid(Cartesian2{X: float64(w) / 2, Y: float64(h) / 2}); ok {
		c := ToCartographic(p)
		return Cartographic{Longitude: c.Longitude, Latitude: c.Latitude}, pos.Sub(p).Magnitude()
	}
	c := ToCartographic(pos)
	return Cartographic{Longitude: c.Longitude, Latitude: c.Latitude}, c.Height
}

func (d *Driver) Camera() engine.Camera {
	v := d.Viewer()
	if v == nil {
		return engine.Camera{}
	}
	t, dist := target(v)
	lon, lat := t.Degrees()
	_, h := v.Canvas()
	return engine.Camera{
		Center:  types.LngLat{geo.WrapLongitude(lon), lat},
		Zoom:    ZoomForDistance(dist, lat, h),
		Bearing: v.Heading() / rad,
		Pitch:   v.Pitch()/rad + 90,
	}
}

// lookAt re-targets the camera after fn adjusted the offset.
func (d *Driver) lookAt(fn func(t *Cartographic, o *HeadingPitchRange, height int)) error {
	v, err := d.get()
	if err != nil {
		return err
	}
	t, dist := target(v)
	o := HeadingPitchRange{Heading: v.Heading(), Pitch: v.Pitch(), Range: dist}
	_, h := v.Canvas()
	fn(&t, &o, h)
	_, lat := t.Degrees()
	v.SetZoomDistanceLimits(d.distanceLimits(lat, h))
	v.LookAt(t.ToCartesian(), o)
	return nil
}

func (d *Driver) JumpTo(center types.LngLat, zoom float64) error {
	return d.lookAt(func(t *Cartographic, o *HeadingPitchRange, h int) {
		*t = FromDegrees(center.Lon(), center.Lat())
		o.Range = DistanceForZoom(zoom, center.Lat(), h)
	})
}

func (d *Driver) SetZoom(zoom float64) error {
	return d.lookAt(func(t *Cartographic, o *HeadingPitchRange, h int) {
		_, lat := t.Degrees()
		o.Range = DistanceForZoom(zoom, lat, h)
	})
}

func (d *Driver) SetBearing(deg float64) error {
	return d.lookAt(func(_ *Cartographic, o *HeadingPitchRange, _ int) { o.Heading = deg * rad })
}

func (d *Driver) SetPitch(deg float64) error {
	return d.lookAt(func(_ *Cartographic, o *HeadingPitchRange, _ int) { o.Pitch = (deg - 90) * rad })
}

func (d *Driver) Project(p types.LngLat) (types.Pixel, bool) {
	v := d.Viewer()
	if v == nil {
		return types.Pixel{}, false
	}
	w, ok := v.WorldToWindowCoordinates(FromDegrees(p.Lon(), p.Lat()).ToCartesian())
	if !ok {
		return types.Pixel{}, false
	}
	return types.Pixel{X: w.X, Y: w.Y}, true
}

func (d *Driver) Unproject(px types.Pixel) (types.LngLat, bool) {
	v := d.Viewer()
	if v == nil {
		return types.LngLat{}, false
	}
	p, ok := v.PickEllipsoid(Cartesian2{X: px.X, Y: px.Y})
	if !ok {
		return types.LngLat{}, false
	}
	lon, lat := ToCartographic(p).Degrees()
	return types.LngLat{lon, lat}, true
}

// Bounds is not available on a globe.
func (d *Driver) Bounds() (types.Bounds, bool) { return types.Bounds{}, false }

// FitBounds looks straight down at b, north up.
func (d *Driver) FitBounds(b orb.Bound) error {
	return d.lookAt(func(t *Cartographic, o *HeadingPitchRange, h int) {
		w, _ := d.Viewer().Canvas()
		center, zoom := engine.FitZoom(b, float64(w), float64(h), ImageryTileSize, 0)
		*t = FromDegrees(center.Lon(), center.Lat())
		o.Heading, o.Pitch = 0, -math.Pi/2
		o.Range = DistanceForZoom(zoom, center.Lat(), h)
	})
}

// Listen forwards native events. Drags are derived from LEFT_DOWN, mouse
// moves and LEFT_UP. Tile loading is only reported for the globe as a whole.
func (d *Driver) Listen(fn func(engine.Raw)) func() {
	v := d.Viewer()
	if v == nil {
		return func() {}
	}
	px := func(e ScreenSpaceEvent) types.Pixel { return types.Pixel{X: e.Position.X, Y: e.Position.Y} }
	simple := map[string]engine.RawKind{
		"LEFT_CLICK":        engine.RawClick,
		"LEFT_DOUBLE_CLICK": engine.RawDoubleClick,
		"RIGHT_CLICK":       engine.RawContextMenu,
		"mouseout":          engine.RawPointerLeave,
		"camera.moveStart":  engine.RawMoveStart,
		"camera.changed":    engine.RawMove,
		"camera.moveEnd":    engine.RawMoveEnd,
	}
	offs := make([]func(), 0, len(simple)+4)
	for typ, kind := range simple {
		offs = append(offs, v.On(typ, func(e ScreenSpaceEvent) { fn(engine.Raw{Kind: kind, Pixel: px(e)}) }))
	}
	offs = append(offs,
		v.On("LEFT_DOWN", func(e ScreenSpaceEvent) {
			p := px(e)
			d.mu.Lock()
			d.down = &p
			d.mu.Unlock()
		}),
		v.On("MOUSE_MOVE", func(e ScreenSpaceEvent) {
			p := px(e)
			d.mu.Lock()
			down := d.down
			start := down != nil && !d.dragging
			if down != nil {
				d.dragging = true
			}
			dragging := d.dragging
			d.mu.Unlock()
			if start {
				fn(engine.Raw{Kind: engine.RawDragStart, Pixel: *down})
			}
			if dragging {
				fn(engine.Raw{Kind: engine.RawDrag, Pixel: p})
			}
			fn(engine.Raw{Kind: engine.RawPointerMove, Pixel: p})
		}),
		v.On("LEFT_UP", func(e ScreenSpaceEvent) {
			d.mu.Lock()
			end := d.dragging
			d.down, d.dragging = nil, false
			d.mu.Unlock()
			if end {
				fn(engine.Raw{Kind: engine.RawDragEnd, Pixel: px(e)})
			}
		}),
		v.On("globe.tileLoadProgress", func(e ScreenSpaceEvent) {
			if e.QueueLength > 0 {
				fn(engine.Raw{Kind: engine.RawSourceLoading, SourceID: globeLoadingSource})
				return
			}
			fn(engine.Raw{Kind: engine.RawSourceIdle})
		}),
	)
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (d *Driver) Destroy() {
	d.mu.Lock()
	v := d.viewer
	d.viewer = nil
	d.mu.Unlock()
	if v != nil {
		v.Destroy()
	}
}
