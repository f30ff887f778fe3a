package engine

import (
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

// Profile is the fixed description of an engine.
type Profile struct {
	Name string
	// ZoomOffset is added to a canonical zoom to get the native zoom.
	ZoomOffset   float64
	Capabilities Capabilities
	// Globe engines have no native bounds; the viewport footprint is found
	// by unprojecting the canvas corners.
	Globe bool
}

// Camera is a native camera reading: Zoom is native, Bearing is degrees
// clockwise from north and Pitch is degrees away from straight down.
type Camera struct {
	Center  types.LngLat
	Zoom    float64
	Bearing float64
	Pitch   float64
}

// MountOptions are passed to Driver.Mount. Zoom values are native.
type MountOptions struct {
	Container Container
	Camera    Camera
	MinZoom   *float64
	MaxZoom   *float64
	Style     string
	StyleURL  string
}

// RawKind enumerates the native events a driver forwards.
type RawKind int

const (
	RawPointerMove RawKind = iota + 1
	RawPointerLeave
	RawClick
	RawDoubleClick
	RawContextMenu
	RawDragStart
	RawDrag
	RawDragEnd
	RawMoveStart
	RawMove
	RawMoveEnd
	RawSourceLoading
	RawSourceIdle
)

var rawKindNames = map[RawKind]string{
	RawPointerMove:   "pointer-move",
	RawPointerLeave:  "pointer-leave",
	RawClick:         "click",
	RawDoubleClick:   "dblclick",
	RawContextMenu:   "contextmenu",
	RawDragStart:     "drag-start",
	RawDrag:          "drag",
	RawDragEnd:       "drag-end",
	RawMoveStart:     "move-start",
	RawMove:          "move",
	RawMoveEnd:       "move-end",
	RawSourceLoading: "source-loading",
	RawSourceIdle:    "source-idle",
}

func (k RawKind) String() string {
	if s, ok := rawKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Raw is a native event translated to engine-neutral terms, still carrying
// native screen pixels.
type Raw struct {
	Kind  RawKind
	Pixel types.Pixel
	// SourceID is set for source loading events. Empty on RawSourceIdle
	// means every source settled.
	SourceID string
}

// Driver is the per-engine seam the Normalizer drives. Implementations
// translate between the engine's own API and native Camera values and must
// be safe for use from the throttle's timer goroutine.
type Driver interface {
	Mount(opts MountOptions) error
	Camera() Camera
	JumpTo(center types.LngLat, zoom float64) error
	SetZoom(zoom float64) error
	SetBearing(deg float64) error
	SetPitch(deg float64) error
	Project(p types.LngLat) (types.Pixel, bool)
	Unproject(px types.Pixel) (types.LngLat, bool)
	// Bounds returns the native axis-aligned bounds. Globe drivers return false.
	Bounds() (types.Bounds, bool)
	FitBounds(b orb.Bound) error
	// Listen registers fn for native events and returns a function that
	// detaches it.
	Listen(fn func(Raw)) func()
	Destroy()
}
