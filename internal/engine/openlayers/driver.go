package openlayers

import (
	"fmt"
	"math"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Profile describes the engine to the normalizer.
var Profile = engine.Profile{
	Name:         "openlayers",
	ZoomOffset:   1,
	Capabilities: engine.Capabilities{Bearing: true},
}

var events = map[string]engine.RawKind{
	"pointermove":       engine.RawPointerMove,
	"pointerleave":      engine.RawPointerLeave,
	"singleclick":       engine.RawClick,
	"dblclick":          engine.RawDoubleClick,
	"contextmenu":       engine.RawContextMenu,
	"movestart":         engine.RawMoveStart,
	"change:center":     engine.RawMove,
	"change:resolution": engine.RawMove,
	"change:rotation":   engine.RawMove,
	"moveend":           engine.RawMoveEnd,
}

// Driver implements engine.Driver on a Native map.
type Driver struct {
	load Loader

	mu       sync.Mutex
	native   Native
	dragging bool
	tiles    map[string]int
}

var _ engine.Driver = (*Driver)(nil)

// NewDriver returns a driver that creates its map with load on Mount.
func NewDriver(load Loader) *Driver {
	if load == nil {
		load = HeadlessLoader
	}
	return &Driver{load: load, tiles: make(map[string]int)}
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

func (d *Driver) Mount(opts engine.MountOptions) error {
	mo := MapOptions{
		Width:  opts.Container.Width,
		Height: opts.Container.Height,
		View: ViewState{
			Center:     project.WGS84.ToMercator(opts.Camera.Center),
			Resolution: ResolutionForZoom(opts.Camera.Zoom),
		},
		MinZoom: DefaultMinZoom,
		MaxZoom: DefaultMaxZoom,
	}
	if opts.MinZoom != nil {
		mo.MinZoom = *opts.MinZoom
	}
	if opts.MaxZoom != nil {
		mo.MaxZoom = *opts.MaxZoom
	}
	m, err := d.load(mo)
	if err != nil {
		return fmt.Errorf("openlayers: load: %w", err)
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
	v := m.GetView()
	return engine.Camera{
		Center:  project.Mercator.ToWGS84(v.Center),
		Zoom:    ZoomForResolution(v.Resolution),
		Bearing: v.Rotation * 180 / math.Pi,
	}
}

func (d *Driver) update(fn func(v *ViewState)) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	v := m.GetView()
	fn(&v)
	m.SetView(v)
	return nil
}

func (d *Driver) JumpTo(center types.LngLat, zoom float64) error {
	return d.update(func(v *ViewState) {
		v.Center = project.WGS84.ToMercator(center)
		v.Resolution = ResolutionForZoom(zoom)
	})
}

func (d *Driver) SetZoom(zoom float64) error {
	return d.update(func(v *ViewState) { v.Resolution = ResolutionForZoom(zoom) })
}

func (d *Driver) SetBearing(deg float64) error {
	return d.update(func(v *ViewState) { v.Rotation = deg * math.Pi / 180 })
}

func (d *Driver) SetPitch(float64) error { return engine.ErrNotSupported }

func (d *Driver) Project(p types.LngLat) (types.Pixel, bool) {
	m := d.Native()
	if m == nil {
		return types.Pixel{}, false
	}
	return m.GetPixelFromCoordinate(project.WGS84.ToMercator(p)), true
}

func (d *Driver) Unproject(px types.Pixel) (types.LngLat, bool) {
	m := d.Native()
	if m == nil {
		return types.LngLat{}, false
	}
	return project.Mercator.ToWGS84(m.GetCoordinateFromPixel(px)), true
}

func (d *Driver) Bounds() (types.Bounds, bool) {
	m := d.Native()
	if m == nil {
		return types.Bounds{}, false
	}
	e := m.CalculateExtent()
	return types.Bounds{SW: project.Mercator.ToWGS84(e.Min), NE: project.Mercator.ToWGS84(e.Max)}, true
}

func (d *Driver) FitBounds(b orb.Bound) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	m.Fit(orb.Bound{Min: project.WGS84.ToMercator(b.Min), Max: project.WGS84.ToMercator(b.Max)}, 0)
	return nil
}

// Listen forwards native events. The engine has no drag start or end
// events, so they are derived from pointerdrag and pointerup, and tile
// events are counted per source to report when a source settles.
func (d *Driver) Listen(fn func(engine.Raw)) func() {
	m := d.Native()
	if m == nil {
		return func() {}
	}
	offs := make([]func(), 0, len(events)+5)
	for typ, kind := range events {
		offs = append(offs, m.On(typ, func(e MapBrowserEvent) {
			fn(engine.Raw{Kind: kind, Pixel: e.Pixel})
		}))
	}
	offs = append(offs,
		m.On("pointerdrag", func(e MapBrowserEvent) {
			d.mu.Lock()
			start := !d.dragging
			d.dragging = true
			d.mu.Unlock()
			if start {
				fn(engine.Raw{Kind: engine.RawDragStart, Pixel: e.Pixel})
			}
			fn(engine.Raw{Kind: engine.RawDrag, Pixel: e.Pixel})
		}),
		m.On("pointerup", func(e MapBrowserEvent) {
			d.mu.Lock()
			end := d.dragging
			d.dragging = false
			d.mu.Unlock()
			if end {
				fn(engine.Raw{Kind: engine.RawDragEnd, Pixel: e.Pixel})
			}
		}),
		m.On("tileloadstart", func(e MapBrowserEvent) {
			d.mu.Lock()
			d.tiles[e.SourceID]++
			first := d.tiles[e.SourceID] == 1
			d.mu.Unlock()
			if first {
				fn(engine.Raw{Kind: engine.RawSourceLoading, SourceID: e.SourceID})
			}
		}),
	)
	done := func(e MapBrowserEvent) {
		d.mu.Lock()
		if d.tiles[e.SourceID] > 0 {
			d.tiles[e.SourceID]--
		}
		last := d.tiles[e.SourceID] == 0
		if last {
			delete(d.tiles, e.SourceID)
		}
		d.mu.Unlock()
		if last {
			fn(engine.Raw{Kind: engine.RawSourceIdle, SourceID: e.SourceID})
		}
	}
	offs = append(offs, m.On("tileloadend", done), m.On("tileloaderror", done))
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
		m.Dispose()
	}
}
