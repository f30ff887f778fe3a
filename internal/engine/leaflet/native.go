// Package leaflet adapts a lightweight raster engine: 256 px tiles, zoom
// snapped to whole levels, no rotation or pitch, and positions given in
// latitude, longitude order.
package leaflet

// Engine defaults.
const (
	DefaultMinZoom  = 0
	DefaultMaxZoom  = 19
	DefaultZoomSnap = 1
	TileSize        = 256
)

// LatLng is a position in latitude, longitude order.
type LatLng struct {
	Lat float64
	Lng float64
}

// Point is a container pixel.
type Point struct {
	X float64
	Y float64
}

// LatLngBounds is a rectangular geographic area.
type LatLngBounds struct {
	SouthWest LatLng
	NorthEast LatLng
}

// MapOptions are the constructor options of a native map.
type MapOptions struct {
	Width    int
	Height   int
	Center   LatLng
	Zoom     float64
	MinZoom  float64
	MaxZoom  float64
	ZoomSnap float64
}

// Layer kinds.
const (
	KindTileLayer = "tileLayer"
	KindWMS       = "tileLayer.wms"
	KindGeoJSON   = "geoJSON"
)

// Layer is a native layer. Tile layers carry a URL template; WMS layers
// carry the service URL and the request parameters the engine forwards.
type Layer struct {
	ID          string
	Kind        string
	SourceID    string
	URL         string
	Subdomains  []string
	TileSize    int
	WMSParams   map[string]string
	Data        any
	MinZoom     float64
	MaxZoom     float64
	Attribution string
	Style       map[string]any
}

// Event is the payload of a native event.
type Event struct {
	Type           string
	ContainerPoint Point
	// SourceID is set on layer loading events.
	SourceID string
}

// Native is the subset of the engine's map API the adapter uses.
type Native interface {
	GetCenter() LatLng
	GetZoom() float64
	SetView(center LatLng, zoom float64)
	SetZoom(zoom float64)
	LatLngToContainerPoint(ll LatLng) Point
	ContainerPointToLatLng(p Point) LatLng
	GetBounds() LatLngBounds
	FitBounds(b LatLngBounds)

	AddLayer(l Layer) error
	RemoveLayer(id string) error
	HasLayer(id string) bool
	SetStyle(id string, style map[string]any) error

	On(typ string, fn func(Event)) func()
	Remove()
}

// Loader constructs a native map.
type Loader func(opts MapOptions) (Native, error)
