// Package catalog holds the declarative layer catalog: sources, logical
// layers and the layer tree, plus the helpers engines need to turn a source
// into native request URLs.
package catalog

// SourceKind selects how a source is fetched.
type SourceKind string

const (
	KindRasterXYZ  SourceKind = "raster-xyz"
	KindRasterWMS  SourceKind = "raster-wms"
	KindRasterWMTS SourceKind = "raster-wmts"
	KindGeoJSON    SourceKind = "geojson"
	KindVector     SourceKind = "vector"
)

// Raster reports whether sources of this kind produce image tiles.
func (k SourceKind) Raster() bool {
	switch k {
	case KindRasterXYZ, KindRasterWMS, KindRasterWMTS:
		return true
	}
	return false
}

// Known reports whether k is one of the supported kinds.
func (k SourceKind) Known() bool {
	return k.Raster() || k == KindGeoJSON || k == KindVector
}

// Config is the catalog section of a map document.
type Config struct {
	Sources []Source   `mapstructure:"sources" json:"sources" yaml:"sources"`
	Layers  []Layer    `mapstructure:"layers" json:"layers" yaml:"layers"`
	Tree    []TreeNode `mapstructure:"tree" json:"tree,omitempty" yaml:"tree,omitempty"`
}

// Source describes where layer data comes from.
type Source struct {
	ID          string     `mapstructure:"id" json:"id" yaml:"id"`
	Type        SourceKind `mapstructure:"type" json:"type" yaml:"type"`
	URL         string     `mapstructure:"url" json:"url,omitempty" yaml:"url,omitempty"`
	Tiles       []string   `mapstructure:"tiles" json:"tiles,omitempty" yaml:"tiles,omitempty"`
	Subdomains  []string   `mapstructure:"subdomains" json:"subdomains,omitempty" yaml:"subdomains,omitempty"`
	TileSize    int        `mapstructure:"tile_size" json:"tileSize,omitempty" yaml:"tile_size,omitempty"`
	MinZoom     float64    `mapstructure:"min_zoom" json:"minZoom,omitempty" yaml:"min_zoom,omitempty"`
	MaxZoom     float64    `mapstructure:"max_zoom" json:"maxZoom,omitempty" yaml:"max_zoom,omitempty"`
	Attribution string     `mapstructure:"attribution" json:"attribution,omitempty" yaml:"attribution,omitempty"`

	// Params are extra request parameters (WMS LAYERS, STYLES, ...). Keys are
	// matched case-insensitively against the query already on URL.
	Params map[string]string `mapstructure:"params" json:"params,omitempty" yaml:"params,omitempty"`

	// WMTS only.
	Layer         string `mapstructure:"layer" json:"layer,omitempty" yaml:"layer,omitempty"`
	TileMatrixSet string `mapstructure:"tile_matrix_set" json:"tileMatrixSet,omitempty" yaml:"tile_matrix_set,omitempty"`
	Style         string `mapstructure:"style" json:"style,omitempty" yaml:"style,omitempty"`
	Format        string `mapstructure:"format" json:"format,omitempty" yaml:"format,omitempty"`

	// Data is inline GeoJSON for geojson sources without a URL.
	Data any `mapstructure:"data" json:"data,omitempty" yaml:"data,omitempty"`
}

// EffectiveTileSize returns the declared tile size or def when unset.
func (s Source) EffectiveTileSize(def int) int {
	if s.TileSize > 0 {
		return s.TileSize
	}
	return def
}

// TileTemplates returns the tile URL templates of an XYZ or vector source.
func (s Source) TileTemplates() []string {
	if len(s.Tiles) > 0 {
		return s.Tiles
	}
	if s.URL != "" {
		return []string{s.URL}
	}
	return nil
}

// Layer is a logical layer: one catalog entry that may expand to several
// native layers.
type Layer struct {
	ID       string       `mapstructure:"id" json:"id" yaml:"id"`
	Title    string       `mapstructure:"title" json:"title,omitempty" yaml:"title,omitempty"`
	Visible  bool         `mapstructure:"visible" json:"visible" yaml:"visible"`
	Layerset []StyleLayer `mapstructure:"layerset" json:"layerset" yaml:"layerset"`
}

// Sources returns the distinct source ids the layer references, in order.
func (l Layer) Sources() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, sl := range l.Layerset {
		if !seen[sl.Source] {
			seen[sl.Source] = true
			ids = append(ids, sl.Source)
		}
	}
	return ids
}

// StyleLayer is one rendering rule of a logical layer.
type StyleLayer struct {
	ID          string         `mapstructure:"id" json:"id,omitempty" yaml:"id,omitempty"`
	Source      string         `mapstructure:"source" json:"source" yaml:"source"`
	Type        string         `mapstructure:"type" json:"type" yaml:"type"`
	SourceLayer string         `mapstructure:"source_layer" json:"sourceLayer,omitempty" yaml:"source_layer,omitempty"`
	Paint       map[string]any `mapstructure:"paint" json:"paint,omitempty" yaml:"paint,omitempty"`
	Layout      map[string]any `mapstructure:"layout" json:"layout,omitempty" yaml:"layout,omitempty"`
	MinZoom     float64        `mapstructure:"min_zoom" json:"minZoom,omitempty" yaml:"min_zoom,omitempty"`
	MaxZoom     float64        `mapstructure:"max_zoom" json:"maxZoom,omitempty" yaml:"max_zoom,omitempty"`
}

// Style layer types.
const (
	StyleRaster = "raster"
	StyleFill   = "fill"
	StyleLine   = "line"
	StyleCircle = "circle"
	StyleSymbol = "symbol"
)

var styleTypes = map[string]bool{
	StyleRaster: true,
	StyleFill:   true,
	StyleLine:   true,
	StyleCircle: true,
	StyleSymbol: true,
}

// TreeNode groups layers for display in a layer tree.
type TreeNode struct {
	ID       string     `mapstructure:"id" json:"id" yaml:"id"`
	Title    string     `mapstructure:"title" json:"title,omitempty" yaml:"title,omitempty"`
	Layer    string     `mapstructure:"layer" json:"layer,omitempty" yaml:"layer,omitempty"`
	Children []TreeNode `mapstructure:"children" json:"children,omitempty" yaml:"children,omitempty"`
}

// Source returns the source with the given id.
func (c Config) Source(id string) (Source, bool) {
	for _, s := range c.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}

// Layer returns the logical layer with the given id.
func (c Config) Layer(id string) (Layer, bool) {
	for _, l := range c.Layers {
		if l.ID == id {
			return l, true
		}
	}
	return Layer{}, false
}

// VisibleLayers returns the layers flagged visible, in catalog order.
func (c Config) VisibleLayers() []Layer {
	var out []Layer
	for _, l := range c.Layers {
		if l.Visible {
			out = append(out, l)
		}
	}
	return out
}
