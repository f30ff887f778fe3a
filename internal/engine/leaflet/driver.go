package leaflet

import (
	"fmt"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

// Profile describes the engine to the normalizer.
var Profile = engine.Profile{
	Name:       "leaflet",
	ZoomOffset: 1,
}

var events = map[string]engine.RawKind{
	"mousemove":   engine.RawPointerMove,
	"mouseout":    engine.RawPointerLeave,
	"click":       engine.RawClick,
	"dblclick":    engine.RawDoubleClick,
	"contextmenu": engine.RawContextMenu,
	"dragstart":   engine.RawDragStart,
	"drag":        engine.RawDrag,
	"dragend":     engine.RawDragEnd,
	"movestart":   engine.RawMoveStart,
	"move":        engine.RawMove,
	"moveend":     engine.RawMoveEnd,
}

// Driver implements engine.Driver on a Native map.
type Driver struct {
	load Loader

	mu      sync.Mutex
	native  Native
	loading map[string]int
}

var _ engine.Driver = (*Driver)(nil)

// NewDriver returns a driver that creates its map with load on Mount.
func NewDriver(load Loader) *Driver {
	if load == nil {
		load = HeadlessLoader
	}
	return &Driver{load: load, loading: make(map[string]int)}
}

// Native returns the mounted map, or nil before Mount.
func (d *Driver) Native() Native {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.native
}

func (d *Driver) get() (Native, error) {
	if m := d.Native(); m != nil {
		return m, nil
	}
	return nil, engine.ErrNotInitialized
}

func toLatLng(p types.LngLat) LatLng { return LatLng{Lat: p.Lat(), Lng: p.Lon()} }

func fromLatLng(ll LatLng) types.LngLat { return types.LngLat{ll.Lng, ll.Lat} }

func (d *Driver) Mount(opts engine.MountOptions) error {
	mo := MapOptions{
		Width:    opts.Container.Width,
		Height:   opts.Container.Height,
		Center:   toLatLng(opts.Camera.Center),
		Zoom:     opts.Camera.Zoom,
		MinZoom:  DefaultMinZoom,
		MaxZoom:  DefaultMaxZoom,
		ZoomSnap: DefaultZoomSnap,
	}
	if opts.MinZoom != nil {
		mo.MinZoom = *opts.MinZoom
	}
	if opts.MaxZoom != nil {
		mo.MaxZoom = *opts.MaxZoom
	}
	m, err := d.load(mo)
	if err != nil {
		return fmt.Errorf("leaflet: load: %w", err)
	}
	d.mu.Lock()
	d.native = m
	d.mu.Unlock()
	return nil
}

func (d *Driver) Camera() engine.Camera {
	m := d.Native()
	if m == nil {
		return engine.Camera{}
	}
	return engine.Camera{Center: fromLatLng(m.GetCenter()), Zoom: m.GetZoom()}
}

func (d *Driver) JumpTo(center types.LngLat, zoom float64) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	m.SetView(toLatLng(center), zoom)
	return nil
}

func (d *Driver) SetZoom(zoom float64) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	m.SetZoom(zoom)
	return nil
}

func (d *Driver) SetBearing(float64) error { return engine.ErrNotSupported }

func (d *Driver) SetPitch(float64) error { return engine.ErrNotSupported }

func (d *Driver) Project(p types.LngLat) (types.Pixel, bool) {
	m := d.Native()
	if m == nil {
		return types.Pixel{}, false
	}
	pt := m.LatLngToContainerPoint(toLatLng(p))
	return types.Pixel{X: pt.X, Y: pt.Y}, true
}

func (d *Driver) Unproject(px types.Pixel) (types.LngLat, bool) {
	m := d.Native()
	if m == nil {
		return types.LngLat{}, false
	}
	return fromLatLng(m.ContainerPointToLatLng(Point{X: px.X, Y: px.Y})), true
}

func (d *Driver) Bounds() (types.Bounds, bool) {
	m := d.Native()
	if m == nil {
		return types.Bounds{}, false
	}
	b := m.GetBounds()
	return types.Bounds{SW: fromLatLng(b.SouthWest), NE: fromLatLng(b.NorthEast)}, true
}

func (d *Driver) FitBounds(b orb.Bound) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	m.FitBounds(LatLngBounds{SouthWest: toLatLng(b.Min), NorthEast: toLatLng(b.Max)})
	return nil
}

// Listen forwards native events. Loading is reported per layer, so layers
// sharing a source are counted until the last one has loaded.
func (d *Driver) Listen(fn func(engine.Raw)) func() {
	m := d.Native()
	if m == nil {
		return func() {}
	}
	offs := make([]func(), 0, len(events)+2)
	for typ, kind := range events {
		offs = append(offs, m.On(typ, func(e Event) {
			fn(engine.Raw{Kind: kind, Pixel: types.Pixel{X: e.ContainerPoint.X, Y: e.ContainerPoint.Y}})
		}))
	}
	offs = append(offs,
		m.On("loading", func(e Event) {
			d.mu.Lock()
			d.loading[e.SourceID]++
			first := d.loading[e.SourceID] == 1
			d.mu.Unlock()
			if first {
				fn(engine.Raw{Kind: engine.RawSourceLoading, SourceID: e.SourceID})
			}
		}),
		m.On("load", func(e Event) {
			d.mu.Lock()
			if d.loading[e.SourceID] > 0 {
				d.loading[e.SourceID]--
			}
			last := d.loading[e.SourceID] == 0
			if last {
				delete(d.loading, e.SourceID)
			}
			d.mu.Unlock()
			if last {
				fn(engine.Raw{Kind: engine.RawSourceIdle, SourceID: e.SourceID})
			}
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
	m := d.native
	d.native = nil
	d.mu.Unlock()
	if m != nil {
		m.Remove()
	}
}
