package maplibre

import (
	"context"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/layers"
)

// rasterTileSize is the default for raster sources; vector sources use 512.
const rasterTileSize = 256

// Target implements layers.Target on the style of the mounted map.
type Target struct {
	driver *Driver
}

var _ layers.Target = (*Target)(nil)

// NewTarget returns a target bound to driver's map.
func NewTarget(driver *Driver) *Target {
	return &Target{driver: driver}
}

// SourceSpec converts a catalog source to a style source.
func SourceSpec(src catalog.Source) (SourceSpecification, error) {
	spec := SourceSpecification{
		MinZoom:     src.MinZoom,
		MaxZoom:     src.MaxZoom,
		Attribution: src.Attribution,
	}
	switch src.Type {
	case catalog.KindRasterXYZ:
		spec.Type = "raster"
		spec.Tiles = expandSubdomains(src.TileTemplates(), src.Subdomains)
		spec.TileSize = src.EffectiveTileSize(rasterTileSize)
	case catalog.KindRasterWMS:
		spec.Type = "raster"
		spec.TileSize = src.EffectiveTileSize(rasterTileSize)
		spec.Tiles = []string{catalog.BuildWMSURL(src, catalog.WMSRequest{
			TileSize: spec.TileSize,
			CRS:      "EPSG:3857",
			BBox:     "{bbox-epsg-3857}",
		})}
	case catalog.KindRasterWMTS:
		spec.Type = "raster"
		spec.TileSize = src.EffectiveTileSize(rasterTileSize)
		spec.Tiles = []string{catalog.BuildWMTSURL(src)}
	case catalog.KindGeoJSON:
		spec.Type = "geojson"
		spec.Data = src.Data
		if spec.Data == nil {
			spec.Data = src.URL
		}
	case catalog.KindVector:
		spec.Type = "vector"
		if len(src.Tiles) > 0 {
			spec.Tiles = src.Tiles
		} else {
			spec.URL = src.URL
		}
	default:
		return SourceSpecification{}, fmt.Errorf("maplibre: unsupported source type %q", src.Type)
	}
	return spec, nil
}

// expandSubdomains turns one {s} template into one template per subdomain.
func expandSubdomains(templates, subdomains []string) []string {
	if len(subdomains) == 0 {
		return templates
	}
	var out []string
	for _, t := range templates {
		if !strings.Contains(t, "{s}") {
			out = append(out, t)
			continue
		}
		for _, s := range subdomains {
			out = append(out, strings.ReplaceAll(t, "{s}", s))
		}
	}
	return out
}

// LayerSpec converts a native layer to a style layer. Zoom stops become
// interpolate expressions so the engine restyles on its own.
func LayerSpec(l layers.NativeLayer) LayerSpecification {
	spec := LayerSpecification{
		ID:          l.ID,
		Type:        l.Style.Type,
		Source:      l.SourceID,
		SourceLayer: l.Style.SourceLayer,
		Layout:      l.Style.Layout,
		MinZoom:     l.Style.MinZoom,
		MaxZoom:     l.Style.MaxZoom,
	}
	if spec.Type == "" {
		spec.Type = catalog.StyleRaster
	}
	if len(l.Style.Paint) > 0 {
		spec.Paint = make(map[string]any, len(l.Style.Paint))
		for k, v := range l.Style.Paint {
			if stops, ok, err := catalog.ParseStops(v); ok && err == nil {
				spec.Paint[k] = stops.Expression()
				continue
			}
			spec.Paint[k] = v
		}
	}
	return spec
}

func (t *Target) native() (Native, error) {
	return t.driver.get()
}

func (t *Target) AddNativeSource(id string, src catalog.Source) error {
	m, err := t.native()
	if err != nil {
		return err
	}
	spec, err := SourceSpec(src)
	if err != nil {
		return err
	}
	return m.AddSource(id, spec)
}

func (t *Target) RemoveNativeSource(id string) error {
	m, err := t.native()
	if err != nil {
		return err
	}
	return m.RemoveSource(id)
}

func (t *Target) HasNativeSource(id string) bool {
	m, err := t.native()
	if err != nil {
		return false
	}
	_, ok := m.GetSource(id)
	return ok
}

func (t *Target) AddNativeLayer(l layers.NativeLayer, _ float64) error {
	m, err := t.native()
	if err != nil {
		return err
	}
	return m.AddLayer(LayerSpec(l))
}

func (t *Target) RemoveNativeLayer(id string) error {
	m, err := t.native()
	if err != nil {
		return err
	}
	return m.RemoveLayer(id)
}

func (t *Target) HasNativeLayer(id string) bool {
	m, err := t.native()
	if err != nil {
		return false
	}
	_, ok := m.GetLayer(id)
	return ok
}

// Restyle is a no-op: paint stops are native expressions.
func (t *Target) Restyle(layers.NativeLayer, float64) error { return nil }

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
