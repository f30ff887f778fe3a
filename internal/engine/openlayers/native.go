// Package openlayers adapts a 2D engine whose view is expressed as an
// EPSG:3857 center, a resolution in meters per pixel and a rotation in
// radians. Its zoom levels assume 256 px tiles, one above canonical.
package openlayers

import (
	"math"

	"github.com/MeKo-Tech/mapbridge/internal/tile"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

// Engine defaults, in native zoom.
const (
	DefaultMinZoom = 0
	DefaultMaxZoom = 28
	TileSize       = 256
)

// maxResolution is meters per pixel at native zoom 0.
const maxResolution = 2 * math.Pi * 6378137 / TileSize

// ResolutionForZoom converts a native zoom to meters per pixel.
func ResolutionForZoom(z float64) float64 {
	return maxResolution / math.Exp2(z)
}

// ZoomForResolution converts meters per pixel to a native zoom.
func ZoomForResolution(res float64) float64 {
	return math.Log2(maxResolution / res)
}

// ViewState is the camera of a native map. Center is in EPSG:3857 meters;
// Rotation is radians, positive clockwise.
type ViewState struct {
	Center     orb.Point
	Resolution float64
	Rotation   float64
}

// MapOptions are the constructor options of a native map.
type MapOptions struct {
	Width   int
	Height  int
	View    ViewState
	MinZoom float64
	MaxZoom float64
}

// Source kinds.
const (
	SourceXYZ        = "XYZ"
	SourceTileWMS    = "TileWMS"
	SourceWMTS       = "WMTS"
	SourceVector     = "Vector"
	SourceVectorTile = "VectorTile"
)

// SourceSpec is a native source. Tile sources resolve URLs per tile.
type SourceSpec struct {
	Kind            string
	TileSize        int
	TileURLFunction func(c tile.Coords) string
	URL             string
	Data            any
	Attributions    string
}

// Layer kinds.
const (
	LayerTile       = "Tile"
	LayerVector     = "Vector"
	LayerVectorTile = "VectorTile"
)

// LayerSpec is a native layer. Sources are attached by reference, so
// several layers may carry the same SourceID.
type LayerSpec struct {
	ID          string
	Kind        string
	SourceID    string
	Source      SourceSpec
	SourceLayer string
	MinZoom     float64
	MaxZoom     float64
	Style       map[string]any
}

// MapBrowserEvent is the payload of a native event.
type MapBrowserEvent struct {
	Type     string
	Pixel    types.Pixel
	SourceID string
}

// Native is the subset of the engine's map API the adapter uses.
type Native interface {
	GetView() ViewState
	SetView(v ViewState)
	GetSize() (width, height int)
	// GetCoordinateFromPixel returns an EPSG:3857 coordinate.
	GetCoordinateFromPixel(px types.Pixel) orb.Point
	GetPixelFromCoordinate(c orb.Point) types.Pixel
	// CalculateExtent returns the EPSG:3857 extent of the view.
	CalculateExtent() orb.Bound
	Fit(extent orb.Bound, padding float64)

	AddLayer(spec LayerSpec) error
	RemoveLayer(id string) error
	GetLayer(id string) (LayerSpec, bool)
	SetStyle(id string, style map[string]any) error

	On(typ string, fn func(MapBrowserEvent)) func()
	Dispose()
}

// Loader constructs a native map.
type Loader func(opts MapOptions) (Native, error)
