package leaflet

import (
	"context"
	"fmt"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/layers"
)

// Target implements layers.Target. The engine has no shared sources, so
// each native layer gets its own copy of the source settings.
type Target struct {
	driver *Driver

	mu      sync.Mutex
	sources map[string]catalog.Source
}

var _ layers.Target = (*Target)(nil)

// NewTarget returns a target bound to driver's map.
func NewTarget(driver *Driver) *Target {
	return &Target{driver: driver, sources: make(map[string]catalog.Source)}
}

// LayerFor converts a native layer and its source to an engine layer.
// Vector tile sources are not supported.
func LayerFor(l layers.NativeLayer, src catalog.Source, zoom float64) (Layer, error) {
	out := Layer{
		ID:          l.ID,
		SourceID:    l.SourceID,
		Subdomains:  src.Subdomains,
		TileSize:    src.EffectiveTileSize(TileSize),
		MinZoom:     nativeZoom(l.Style.MinZoom),
		MaxZoom:     nativeZoom(l.Style.MaxZoom),
		Attribution: src.Attribution,
		Style:       catalog.ResolvePaint(l.Style.Paint, zoom),
	}
	switch src.Type {
	case catalog.KindRasterXYZ:
		templates := src.TileTemplates()
		if len(templates) == 0 {
			return Layer{}, fmt.Errorf("leaflet: source %q has no tile url", src.ID)
		}
		out.Kind = KindTileLayer
		out.URL = templates[0]
	case catalog.KindRasterWMTS:
		out.Kind = KindTileLayer
		out.URL = catalog.BuildWMTSURL(src)
	case catalog.KindRasterWMS:
		out.Kind = KindWMS
		out.URL = src.URL
		out.WMSParams = make(map[string]string)
		params := catalog.WMSParams(src, catalog.WMSRequest{
			TileSize: out.TileSize,
			CRS:      "EPSG:3857",
			Managed:  []string{"WIDTH", "HEIGHT", "BBOX"},
		})
		for _, p := range params {
			out.WMSParams[p.Key] = p.Value
		}
	case catalog.KindGeoJSON:
		out.Kind = KindGeoJSON
		out.Data = src.Data
		if out.Data == nil {
			out.Data = src.URL
		}
	case catalog.KindVector:
		return Layer{}, fmt.Errorf("leaflet: vector source %q: %w", src.ID, engine.ErrNotSupported)
	default:
		return Layer{}, fmt.Errorf("leaflet: unsupported source type %q", src.Type)
	}
	return out, nil
}

func nativeZoom(z float64) float64 {
	if z == 0 {
		return 0
	}
	return z + Profile.ZoomOffset
}

func (t *Target) AddNativeSource(id string, src catalog.Source) error {
	if src.Type == catalog.KindVector {
		return fmt.Errorf("leaflet: vector source %q: %w", src.ID, engine.ErrNotSupported)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sources[id]; ok {
		return fmt.Errorf("leaflet: source %q already exists", id)
	}
	t.sources[id] = src
	return nil
}

func (t *Target) RemoveNativeSource(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sources[id]; !ok {
		return fmt.Errorf("leaflet: source %q not found", id)
	}
	delete(t.sources, id)
	return nil
}

func (t *Target) HasNativeSource(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sources[id]
	return ok
}

func (t *Target) AddNativeLayer(l layers.NativeLayer, zoom float64) error {
	m, err := t.driver.get()
	if err != nil {
		return err
	}
	t.mu.Lock()
	src, ok := t.sources[l.SourceID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("leaflet: layer %q references missing source %q", l.ID, l.SourceID)
	}
	nl, err := LayerFor(l, src, zoom)
	if err != nil {
		return err
	}
	return m.AddLayer(nl)
}

func (t *Target) RemoveNativeLayer(id string) error {
	m, err := t.driver.get()
	if err != nil {
		return err
	}
	return m.RemoveLayer(id)
}

func (t *Target) HasNativeLayer(id string) bool {
	m, err := t.driver.get()
	if err != nil {
		return false
	}
	return m.HasLayer(id)
}

func (t *Target) Restyle(l layers.NativeLayer, zoom float64) error {
	m, err := t.driver.get()
	if err != nil {
		return err
	}
	return m.SetStyle(l.ID, catalog.ResolvePaint(l.Style.Paint, zoom))
}

// NewFactory returns an engine factory that loads maps with load.
func NewFactory(load Loader) engine.Factory {
	return func(ctx context.Context, deps engine.Deps) (engine.Adapter, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := NewDriver(load)
		return layers.Bind(Profile, d, NewTarget(d), deps), nil
	}
}
