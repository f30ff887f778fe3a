package cesium

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/layers"
)

// Target implements layers.Target with imagery layers for raster sources
// and data sources for GeoJSON. Vector tiles are not supported.
type Target struct {
	driver *Driver

	mu      sync.Mutex
	sources map[string]catalog.Source
}

var _ layers.Target = (*Target)(nil)

// NewTarget returns a target bound to driver's viewer.
func NewTarget(driver *Driver) *Target {
	return &Target{driver: driver, sources: make(map[string]catalog.Source)}
}

// ProviderFor converts a raster source to an imagery provider.
func ProviderFor(src catalog.Source) (ImageryProvider, error) {
	p := ImageryProvider{
		Subdomains: src.Subdomains,
		TileWidth:  src.EffectiveTileSize(ImageryTileSize),
		Credit:     src.Attribution,
	}
	switch src.Type {
	case catalog.KindRasterXYZ:
		templates := src.TileTemplates()
		if len(templates) == 0 {
			return ImageryProvider{}, fmt.Errorf("cesium: source %q has no tile url", src.ID)
		}
		p.Kind = ProviderURLTemplate
		p.URL = templates[0]
	case catalog.KindRasterWMTS:
		p.Kind = ProviderURLTemplate
		p.URL = catalog.BuildWMTSURL(src)
	case catalog.KindRasterWMS:
		p.Kind = ProviderWMS
		p.URL = src.URL
		p.Parameters = make(map[string]string)
		params := catalog.WMSParams(src, catalog.WMSRequest{
			TileSize: p.TileWidth,
			CRS:      "EPSG:3857",
			Managed:  []string{"WIDTH", "HEIGHT", "BBOX"},
		})
		for _, kv := range params {
			if strings.EqualFold(kv.Key, "LAYERS") {
				p.Layers = kv.Value
				continue
			}
			p.Parameters[kv.Key] = kv.Value
		}
	default:
		return ImageryProvider{}, fmt.Errorf("cesium: source %q of type %q is not imagery", src.ID, src.Type)
	}
	return p, nil
}

func nativeZoom(z float64) float64 {
	if z == 0 {
		return 0
	}
	return z + Profile.ZoomOffset
}

func alpha(style map[string]any) float64 {
	if v, ok := style["raster-opacity"].(float64); ok {
		return v
	}
	return 1
}

func (t *Target) AddNativeSource(id string, src catalog.Source) error {
	if src.Type == catalog.KindVector {
		return fmt.Errorf("cesium: vector source %q: %w", src.ID, engine.ErrNotSupported)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sources[id]; ok {
		return fmt.Errorf("cesium: source %q already exists", id)
	}
	t.sources[id] = src
	return nil
}

func (t *Target) RemoveNativeSource(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sources[id]; !ok {
		return fmt.Errorf("cesium: source %q not found", id)
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
	v, err := t.driver.get()
	if err != nil {
		return err
	}
	t.mu.Lock()
	src, ok := t.sources[l.SourceID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("cesium: layer %q references missing source %q", l.ID, l.SourceID)
	}
	style := catalog.ResolvePaint(l.Style.Paint, zoom)
	if src.Type == catalog.KindGeoJSON {
		return v.AddDataSource(GeoJSONDataSource{ID: l.ID, SourceID: l.SourceID, URL: src.URL, Data: src.Data, Style: style})
	}
	p, err := ProviderFor(src)
	if err != nil {
		return err
	}
	return v.AddImageryLayer(ImageryLayer{
		ID:                  l.ID,
		SourceID:            l.SourceID,
		Provider:            p,
		Alpha:               alpha(style),
		MinimumTerrainLevel: nativeZoom(l.Style.MinZoom),
		MaximumTerrainLevel: nativeZoom(l.Style.MaxZoom),
		Style:               style,
	})
}

func (t *Target) RemoveNativeLayer(id string) error {
	v, err := t.driver.get()
	if err != nil {
		return err
	}
	if v.HasDataSource(id) {
		return v.RemoveDataSource(id)
	}
	return v.RemoveImageryLayer(id)
}

func (t *Target) HasNativeLayer(id string) bool {
	v, err := t.driver.get()
	if err != nil {
		return false
	}
	return v.HasImageryLayer(id) || v.HasDataSource(id)
}

func (t *Target) Restyle(l layers.NativeLayer, zoom float64) error {
	v, err := t.driver.get()
	if err != nil {
		return err
	}
	return v.SetLayerStyle(l.ID, catalog.ResolvePaint(l.Style.Paint, zoom))
}

// NewFactory returns an engine factory that loads viewers with load.
func NewFactory(load Loader) engine.Factory {
	return func(ctx context.Context, deps engine.Deps) (engine.Adapter, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := NewDriver(load)
		return layers.Bind(Profile, d, NewTarget(d), deps), nil
	}
}
