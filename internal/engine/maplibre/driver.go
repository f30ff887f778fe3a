package maplibre

import (
	"fmt"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

// Profile describes the engine to the normalizer.
var Profile = engine.Profile{
	Name:         "maplibre",
	ZoomOffset:   0,
	Capabilities: engine.Capabilities{Bearing: true, Pitch: true},
}

// events maps native event types to raw kinds. sourcedata is handled
// separately because only loaded notifications count.
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
	"dataloading": engine.RawSourceLoading,
	"idle":        engine.RawSourceIdle,
}

// Driver implements engine.Driver on a Native map.
type Driver struct {
	load Loader

	mu     sync.Mutex
	native Native
}

var _ engine.Driver = (*Driver)(nil)

// NewDriver returns a driver that creates its map with load on Mount.
func NewDriver(load Loader) *Driver {
	if load == nil {
		load = HeadlessLoader
	}
	return &Driver{load: load}
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
		Width:    opts.Container.Width,
		Height:   opts.Container.Height,
		Center:   opts.Camera.Center,
		Zoom:     opts.Camera.Zoom,
		MinZoom:  DefaultMinZoom,
		MaxZoom:  DefaultMaxZoom,
		MaxPitch: DefaultMaxPitch,
		Style:    opts.Style,
		StyleURL: opts.StyleURL,
	}
	if opts.MinZoom != nil {
		mo.MinZoom = *opts.MinZoom
	}
	if opts.MaxZoom != nil {
		mo.MaxZoom = *opts.MaxZoom
	}
	m, err := d.load(mo)
	if err != nil {
		return fmt.Errorf("maplibre: load: %w", err)
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
	return engine.Camera{Center: m.GetCenter(), Zoom: m.GetZoom(), Bearing: m.GetBearing(), Pitch: m.GetPitch()}
}

func (d *Driver) JumpTo(center types.LngLat, zoom float64) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	m.JumpTo(CameraOptions{Center: &center, Zoom: &zoom})
	return nil
}

func (d *Driver) SetZoom(zoom float64) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	m.JumpTo(CameraOptions{Zoom: &zoom})
	return nil
}

func (d *Driver) SetBearing(deg float64) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	m.JumpTo(CameraOptions{Bearing: &deg})
	return nil
}

func (d *Driver) SetPitch(deg float64) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	m.JumpTo(CameraOptions{Pitch: &deg})
	return nil
}

func (d *Driver) Project(p types.LngLat) (types.Pixel, bool) {
	m := d.Native()
	if m == nil {
		return types.Pixel{}, false
	}
	return m.Project(p), true
}

func (d *Driver) Unproject(px types.Pixel) (types.LngLat, bool) {
	m := d.Native()
	if m == nil {
		return types.LngLat{}, false
	}
	return m.Unproject(px), true
}

func (d *Driver) Bounds() (types.Bounds, bool) {
	m := d.Native()
	if m == nil {
		return types.Bounds{}, false
	}
	return m.GetBounds(), true
}

func (d *Driver) FitBounds(b orb.Bound) error {
	m, err := d.get()
	if err != nil {
		return err
	}
	m.FitBounds(b, 0)
	return nil
}

func (d *Driver) Listen(fn func(engine.Raw)) func() {
	m := d.Native()
	if m == nil {
		return func() {}
	}
	offs := make([]func(), 0, len(events)+1)
	for typ, kind := range events {
		offs = append(offs, m.On(typ, func(e MapEvent) {
			fn(engine.Raw{Kind: kind, Pixel: e.Point, SourceID: e.SourceID})
		}))
	}
	offs = append(offs, m.On("sourcedata", func(e MapEvent) {
		if e.IsSourceLoaded {
			fn(engine.Raw{Kind: engine.RawSourceIdle, SourceID: e.SourceID})
		}
	}))
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
