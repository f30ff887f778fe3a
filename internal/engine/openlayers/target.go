package openlayers

import (
	"context"
	"fmt"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/layers"
	"github.com/MeKo-Tech/mapbridge/internal/tile"
)

// Target implements layers.Target. The engine has no map-level source
// registry, so sources are kept here and attached to each layer.
type Target struct {
	driver *Driver

	mu      sync.Mutex
	sources map[string]SourceSpec
}

var _ layers.Target = (*Target)(nil)

// NewTarget returns a target bound to driver's map.
func NewTarget(driver *Driver) *Target {
	return &Target{driver: driver, sources: make(map[string]SourceSpec)}
}

// SourceFor converts a catalog source to a native source.
func SourceFor(src catalog.Source) (SourceSpec, error) {
	spec := SourceSpec{Attributions: src.Attribution, TileSize: src.EffectiveTileSize(TileSize)}
	switch src.Type {
	case catalog.KindRasterXYZ:
		spec.Kind = SourceXYZ
		templates := src.TileTemplates()
		if len(templates) == 0 {
			return SourceSpec{}, fmt.Errorf("openlayers: source %q has no tile url", src.ID)
		}
		spec.TileURLFunction = func(c tile.Coords) string {
			return catalog.ExpandTileURL(templates[int(c.X+c.Y)%len(templates)], c, src.Subdomains)
		}
	case catalog.KindRasterWMS:
		spec.Kind = SourceTileWMS
		size := spec.TileSize
		spec.TileURLFunction = func(c tile.Coords) string {
			return catalog.BuildWMSURL(src, catalog.WMSRequest{TileSize: size, CRS: "EPSG:3857", BBox: catalog.TileBBox(c)})
		}
	case catalog.KindRasterWMTS:
		spec.Kind = SourceWMTS
		template := catalog.BuildWMTSURL(src)
		spec.TileURLFunction = func(c tile.Coords) string {
			return catalog.ExpandTileURL(template, c, nil)
		}
	case catalog.KindGeoJSON:
		spec.Kind = SourceVector
		spec.URL = src.URL
		spec.Data = src.Data
	case catalog.KindVector:
		spec.Kind = SourceVectorTile
		if len(src.Tiles) > 0 {
			templates := src.Tiles
			spec.TileURLFunction = func(c tile.Coords) string {
				return catalog.ExpandTileURL(templates[0], c, src.Subdomains)
			}
		} else {
			spec.URL = src.URL
		}
	default:
		return SourceSpec{}, fmt.Errorf("openlayers: unsupported source type %q", src.Type)
	}
	return spec, nil
}

func layerKind(s SourceSpec) string {
	switch s.Kind {
	case SourceVector:
		return LayerVector
	case SourceVectorTile:
		return LayerVectorTile
	}
	return LayerTile
}

// nativeZoom converts an optional canonical zoom limit.
func nativeZoom(z float64) float64 {
	if z == 0 {
		return 0
	}
	return z + Profile.ZoomOffset
}

func (t *Target) AddNativeSource(id string, src catalog.Source) error {
	spec, err := SourceFor(src)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sources[id]; ok {
		return fmt.Errorf("openlayers: source %q already exists", id)
	}
	t.sources[id] = spec
	return nil
}

func (t *Target) RemoveNativeSource(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sources[id]; !ok {
		return fmt.Errorf("openlayers: source %q not found", id)
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

// AddNativeLayer creates the layer with its style evaluated at the
// canonical zoom.
func (t *Target) AddNativeLayer(l layers.NativeLayer, zoom float64) error {
	m, err := t.driver.get()
	if err != nil {
		return err
	}
	t.mu.Lock()
	src, ok := t.sources[l.SourceID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("openlayers: layer %q references missing source %q", l.ID, l.SourceID)
	}
	return m.AddLayer(LayerSpec{
		ID:          l.ID,
		Kind:        layerKind(src),
		SourceID:    l.SourceID,
		Source:      src,
		SourceLayer: l.Style.SourceLayer,
		MinZoom:     nativeZoom(l.Style.MinZoom),
		MaxZoom:     nativeZoom(l.Style.MaxZoom),
		Style:       catalog.ResolvePaint(l.Style.Paint, zoom),
	})
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
	_, ok := m.GetLayer(id)
	return ok
}

// Restyle re-evaluates zoom stops; the engine has no zoom expressions.
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
