package cmd

import (
	"log/slog"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/engine/cesium"
	"github.com/MeKo-Tech/mapbridge/internal/engine/leaflet"
	"github.com/MeKo-Tech/mapbridge/internal/engine/maplibre"
	"github.com/MeKo-Tech/mapbridge/internal/engine/openlayers"
	"github.com/MeKo-Tech/mapbridge/internal/registry"
	"github.com/MeKo-Tech/mapbridge/internal/types"
)

// headless is the command-line view of a headless native map: pointer
// input in container pixels and a dump of what the engine was given.
type headless interface {
	Move(px types.Pixel)
	Leave()
	Click(px types.Pixel)
	DblClick(px types.Pixel)
	Drag(from, to types.Pixel, steps int)
	Scroll(px types.Pixel, delta float64)
	Idle()
	// Native returns the native layer specs in a printable form.
	Native() nativeSpec
}

// nativeSpec is what one engine received for a catalog.
type nativeSpec struct {
	Engine   string                                  `json:"engine" yaml:"engine"`
	Sources  map[string]maplibre.SourceSpecification `json:"sources,omitempty" yaml:"sources,omitempty"`
	Layers   []nativeLayer                           `json:"layers" yaml:"layers"`
	Requests []string                                `json:"requests,omitempty" yaml:"requests,omitempty"`
}

// nativeLayer flattens a native layer of any engine.
type nativeLayer struct {
	ID          string            `json:"id" yaml:"id"`
	Kind        string            `json:"kind" yaml:"kind"`
	Source      string            `json:"source,omitempty" yaml:"source,omitempty"`
	SourceLayer string            `json:"sourceLayer,omitempty" yaml:"source_layer,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	Inline      bool              `json:"inline,omitempty" yaml:"inline,omitempty"`
	MinZoom     float64           `json:"minZoom,omitempty" yaml:"min_zoom,omitempty"`
	MaxZoom     float64           `json:"maxZoom,omitempty" yaml:"max_zoom,omitempty"`
	Style       map[string]any    `json:"style,omitempty" yaml:"style,omitempty"`
}

// inlineData replaces embedded GeoJSON in printed specs.
const inlineData = "(inline)"

// natives records the headless maps a registry builds.
type natives struct {
	mu   sync.Mutex
	list []headless
}

func (n *natives) add(h headless) {
	n.mu.Lock()
	n.list = append(n.list, h)
	n.mu.Unlock()
}

// last returns the most recently built map, or nil.
func (n *natives) last() headless {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.list) == 0 {
		return nil
	}
	return n.list[len(n.list)-1]
}

// headlessRegistry registers every engine with a loader that records the
// headless native it creates.
func headlessRegistry(log *slog.Logger) (*registry.Registry, *natives) {
	n := &natives{}
	r := registry.New(log)
	r.Register("maplibre", maplibre.NewFactory(func(o maplibre.MapOptions) (maplibre.Native, error) {
		h := maplibre.NewHeadless(o)
		n.add(maplibreMap{h})
		return h, nil
	}))
	r.Register("openlayers", openlayers.NewFactory(func(o openlayers.MapOptions) (openlayers.Native, error) {
		h := openlayers.NewHeadless(o)
		n.add(openlayersMap{h})
		return h, nil
	}))
	r.Register("leaflet", leaflet.NewFactory(func(o leaflet.MapOptions) (leaflet.Native, error) {
		h := leaflet.NewHeadless(o)
		n.add(leafletMap{h})
		return h, nil
	}))
	r.Register("cesium", cesium.NewFactory(func(o cesium.ViewerOptions) (cesium.Viewer, error) {
		h := cesium.NewHeadless(o)
		n.add(cesiumMap{h})
		return h, nil
	}))
	return r, n
}

type maplibreMap struct{ h *maplibre.Headless }

func (m maplibreMap) Move(px types.Pixel)                  { m.h.MouseMove(px) }
func (m maplibreMap) Leave()                               { m.h.MouseOut() }
func (m maplibreMap) Click(px types.Pixel)                 { m.h.Click(px) }
func (m maplibreMap) DblClick(px types.Pixel)              { m.h.DblClick(px) }
func (m maplibreMap) Drag(from, to types.Pixel, steps int) { m.h.DragPan(from, to, steps) }
func (m maplibreMap) Scroll(px types.Pixel, delta float64) { m.h.ScrollZoom(px, delta) }
func (m maplibreMap) Idle()                                { m.h.Idle() }

func (m maplibreMap) Native() nativeSpec {
	spec := nativeSpec{Engine: "maplibre", Sources: m.h.Sources(), Requests: m.h.Requests()}
	for id, src := range spec.Sources {
		if src.Data != nil {
			src.Data = inlineData
			spec.Sources[id] = src
		}
	}
	for _, l := range m.h.Layers() {
		style := make(map[string]any, len(l.Paint)+len(l.Layout))
		for k, v := range l.Layout {
			style[k] = v
		}
		for k, v := range l.Paint {
			style[k] = v
		}
		spec.Layers = append(spec.Layers, nativeLayer{
			ID:          l.ID,
			Kind:        l.Type,
			Source:      l.Source,
			SourceLayer: l.SourceLayer,
			MinZoom:     l.MinZoom,
			MaxZoom:     l.MaxZoom,
			Style:       style,
		})
	}
	return spec
}

type openlayersMap struct{ h *openlayers.Headless }

func (m openlayersMap) Move(px types.Pixel)                  { m.h.PointerMove(px) }
func (m openlayersMap) Leave()                               { m.h.PointerLeave() }
func (m openlayersMap) Click(px types.Pixel)                 { m.h.SingleClick(px) }
func (m openlayersMap) DblClick(px types.Pixel)              { m.h.DblClick(px) }
func (m openlayersMap) Drag(from, to types.Pixel, steps int) { m.h.DragPan(from, to, steps) }
func (m openlayersMap) Scroll(px types.Pixel, delta float64) { m.h.ScrollZoom(px, delta) }
func (m openlayersMap) Idle()                                { m.h.Idle() }

func (m openlayersMap) Native() nativeSpec {
	spec := nativeSpec{Engine: "openlayers", Requests: m.h.Requests()}
	for _, l := range m.h.Layers() {
		spec.Layers = append(spec.Layers, nativeLayer{
			ID:          l.ID,
			Kind:        l.Kind + "/" + l.Source.Kind,
			Source:      l.SourceID,
			SourceLayer: l.SourceLayer,
			URL:         l.Source.URL,
			Inline:      l.Source.Data != nil,
			MinZoom:     l.MinZoom,
			MaxZoom:     l.MaxZoom,
			Style:       l.Style,
		})
	}
	return spec
}

type leafletMap struct{ h *leaflet.Headless }

func point(px types.Pixel) leaflet.Point { return leaflet.Point{X: px.X, Y: px.Y} }

func (m leafletMap) Move(px types.Pixel)     { m.h.MouseMove(point(px)) }
func (m leafletMap) Leave()                  { m.h.MouseOut() }
func (m leafletMap) Click(px types.Pixel)    { m.h.Click(point(px)) }
func (m leafletMap) DblClick(px types.Pixel) { m.h.DblClick(point(px)) }
func (m leafletMap) Drag(from, to types.Pixel, steps int) {
	m.h.DragPan(point(from), point(to), steps)
}

// Scroll is a no-op: the leaflet headless map has no wheel input.
func (m leafletMap) Scroll(types.Pixel, float64) {}
func (m leafletMap) Idle()                       { m.h.Idle() }

func (m leafletMap) Native() nativeSpec {
	spec := nativeSpec{Engine: "leaflet", Requests: m.h.Requests()}
	for _, l := range m.h.Layers() {
		spec.Layers = append(spec.Layers, nativeLayer{
			ID:      l.ID,
			Kind:    l.Kind,
			Source:  l.SourceID,
			URL:     l.URL,
			Params:  l.WMSParams,
			Inline:  l.Data != nil,
			MinZoom: l.MinZoom,
			MaxZoom: l.MaxZoom,
			Style:   l.Style,
		})
	}
	return spec
}

type cesiumMap struct{ h *cesium.Headless }

func window(px types.Pixel) cesium.Cartesian2 { return cesium.Cartesian2{X: px.X, Y: px.Y} }

func (m cesiumMap) Move(px types.Pixel)     { m.h.MouseMove(window(px)) }
func (m cesiumMap) Leave()                  { m.h.MouseOut() }
func (m cesiumMap) Click(px types.Pixel)    { m.h.LeftClick(window(px)) }
func (m cesiumMap) DblClick(px types.Pixel) { m.h.LeftDoubleClick(window(px)) }
func (m cesiumMap) Drag(from, to types.Pixel, steps int) {
	m.h.DragPan(window(from), window(to), steps)
}

// Scroll zooms towards the globe center; the cesium camera has no pivot.
func (m cesiumMap) Scroll(_ types.Pixel, delta float64) { m.h.ScrollZoom(delta) }
func (m cesiumMap) Idle()                               { m.h.Idle() }

func (m cesiumMap) Native() nativeSpec {
	spec := nativeSpec{Engine: "cesium", Requests: m.h.Requests()}
	for _, l := range m.h.Imagery() {
		spec.Layers = append(spec.Layers, nativeLayer{
			ID:      l.ID,
			Kind:    l.Provider.Kind,
			Source:  l.SourceID,
			URL:     l.Provider.URL,
			Params:  l.Provider.Parameters,
			MinZoom: l.MinimumTerrainLevel,
			MaxZoom: l.MaximumTerrainLevel,
			Style:   l.Style,
		})
	}
	for _, ds := range m.h.DataSources() {
		spec.Layers = append(spec.Layers, nativeLayer{
			ID:     ds.ID,
			Kind:   "GeoJsonDataSource",
			Source: ds.SourceID,
			URL:    ds.URL,
			Inline: ds.Data != nil,
			Style:  ds.Style,
		})
	}
	return spec
}
