// Package maplibre adapts a WebGL vector-tile engine with 512 px tiles,
// bearing and pitch. Its native zoom is already canonical.
package maplibre

import (
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

// Engine defaults.
const (
	DefaultMinZoom  = 0
	DefaultMaxZoom  = 22
	DefaultMaxPitch = 60
	MaxPitchLimit   = 85
	TileSize        = 512
)

// MapOptions are the constructor options of a native map.
type MapOptions struct {
	Width    int
	Height   int
	Center   types.LngLat
	Zoom     float64
	MinZoom  float64
	MaxZoom  float64
	MaxPitch float64
	Style    string
	StyleURL string
}

// CameraOptions is a partial camera update; nil fields are unchanged.
type CameraOptions struct {
	Center  *types.LngLat
	Zoom    *float64
	Bearing *float64
	Pitch   *float64
}

// SourceSpecification is a style source.
type SourceSpecification struct {
	Type        string   `json:"type" yaml:"type"`
	Tiles       []string `json:"tiles,omitempty" yaml:"tiles,omitempty"`
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
	TileSize    int      `json:"tileSize,omitempty" yaml:"tileSize,omitempty"`
	Data        any      `json:"data,omitempty" yaml:"data,omitempty"`
	MinZoom     float64  `json:"minzoom,omitempty" yaml:"minzoom,omitempty"`
	MaxZoom     float64  `json:"maxzoom,omitempty" yaml:"maxzoom,omitempty"`
	Attribution string   `json:"attribution,omitempty" yaml:"attribution,omitempty"`
}

// LayerSpecification is a style layer.
type LayerSpecification struct {
	ID          string         `json:"id" yaml:"id"`
	Type        string         `json:"type" yaml:"type"`
	Source      string         `json:"source,omitempty" yaml:"source,omitempty"`
	SourceLayer string         `json:"source-layer,omitempty" yaml:"source-layer,omitempty"`
	Paint       map[string]any `json:"paint,omitempty" yaml:"paint,omitempty"`
	Layout      map[string]any `json:"layout,omitempty" yaml:"layout,omitempty"`
	MinZoom     float64        `json:"minzoom,omitempty" yaml:"minzoom,omitempty"`
	MaxZoom     float64        `json:"maxzoom,omitempty" yaml:"maxzoom,omitempty"`
}

// MapEvent is the payload of a native event.
type MapEvent struct {
	Type     string
	Point    types.Pixel
	SourceID string
	// IsSourceLoaded is set on sourcedata events.
	IsSourceLoaded bool
}

// Native is the subset of the engine's map API the adapter uses.
type Native interface {
	JumpTo(opts CameraOptions)
	GetCenter() types.LngLat
	GetZoom() float64
	GetBearing() float64
	GetPitch() float64
	SetMinZoom(z float64)
	SetMaxZoom(z float64)
	SetMaxPitch(p float64)
	Project(ll types.LngLat) types.Pixel
	Unproject(px types.Pixel) types.LngLat
	GetBounds() types.Bounds
	FitBounds(b orb.Bound, padding float64)

	AddSource(id string, spec SourceSpecification) error
	RemoveSource(id string) error
	GetSource(id string) (SourceSpecification, bool)
	AddLayer(spec LayerSpecification) error
	RemoveLayer(id string) error
	GetLayer(id string) (LayerSpecification, bool)
	SetPaintProperty(layerID, name string, value any) error

	// On registers fn for a native event type and returns a function that
	// removes it.
	On(typ string, fn func(MapEvent)) func()
	Remove()
}

// Loader constructs a native map. It stands in for lazily loading the
// engine library.
type Loader func(opts MapOptions) (Native, error)
