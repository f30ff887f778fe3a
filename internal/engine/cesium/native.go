// Package cesium adapts a 3D globe engine. The camera orbits a target on
// the WGS84 ellipsoid; zoom is derived from the camera distance and the
// visible footprint from picking the canvas corners, which may miss the
// globe entirely.
package cesium

import "math"

// Engine defaults.
const (
	// FieldOfView is the vertical field of view in radians.
	FieldOfView        = math.Pi / 3
	DefaultMinDistance = 1.0
	DefaultMaxDistance = 1e9
	ImageryTileSize    = 256
	globeLoadingSource = "globe"
	maxTileRequests    = 64
)

// Cartesian2 is a window position in pixels.
type Cartesian2 struct {
	X, Y float64
}

// HeadingPitchRange orients the camera relative to a target. Heading is
// clockwise from north, Pitch is negative below the horizon; both radians.
type HeadingPitchRange struct {
	Heading float64
	Pitch   float64
	Range   float64
}

// ViewerOptions are the constructor options of a native viewer.
type ViewerOptions struct {
	Width       int
	Height      int
	Target      Cartographic
	Offset      HeadingPitchRange
	MinDistance float64
	MaxDistance float64
}

// Imagery provider kinds.
const (
	ProviderURLTemplate = "UrlTemplateImageryProvider"
	ProviderWMS         = "WebMapServiceImageryProvider"
	ProviderWMTS        = "WebMapTileServiceImageryProvider"
)

// ImageryProvider describes where imagery tiles come from.
type ImageryProvider struct {
	Kind       string
	URL        string
	Subdomains []string
	Layers     string
	Parameters map[string]string
	TileWidth  int
	Credit     string
}

// ImageryLayer is a draped raster layer.
type ImageryLayer struct {
	ID                  string
	SourceID            string
	Provider            ImageryProvider
	Alpha               float64
	MinimumTerrainLevel float64
	MaximumTerrainLevel float64
	Style               map[string]any
}

// GeoJSONDataSource is a loaded vector data source.
type GeoJSONDataSource struct {
	ID       string
	SourceID string
	URL      string
	Data     any
	Style    map[string]any
}

// ScreenSpaceEvent is the payload of an input or camera event.
type ScreenSpaceEvent struct {
	Type     string
	Position Cartesian2
	// QueueLength is set on globe.tileLoadProgress.
	QueueLength int
}

// Viewer is the subset of the engine API the adapter uses.
type Viewer interface {
	Canvas() (width, height int)
	LookAt(target Cartesian3, offset HeadingPitchRange)
	Heading() float64
	Pitch() float64
	CameraPosition() Cartesian3
	PickEllipsoid(win Cartesian2) (Cartesian3, bool)
	WorldToWindowCoordinates(p Cartesian3) (Cartesian2, bool)
	SetZoomDistanceLimits(min, max float64)

	AddImageryLayer(l ImageryLayer) error
	RemoveImageryLayer(id string) error
	HasImageryLayer(id string) bool
	AddDataSource(ds GeoJSONDataSource) error
	RemoveDataSource(id string) error
	HasDataSource(id string) bool
	SetLayerStyle(id string, style map[string]any) error

	On(typ string, fn func(ScreenSpaceEvent)) func()
	Destroy()
}

// Loader constructs a native viewer.
type Loader func(opts ViewerOptions) (Viewer, error)
