package state

import (
	"slices"

	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

// Source identifies who caused a dispatch.
type Source string

const (
	SourceUI   Source = "UI"
	SourceMap  Source = "MAP"
	SourceInit Source = "INIT"
)

// Cause describes a dispatch to listeners.
type Cause struct {
	Source Source
	// Actor optionally names the component that wrote the patch.
	Actor string
}

// AppState is the canonical, engine-independent application state.
// Nil pointers and nil slices mean "unknown".
type AppState struct {
	MapLoaded bool `json:"mapLoaded"`
	MapBusy   bool `json:"mapBusy"`

	// ZoomLevel is always canonical (512 px tile convention).
	ZoomLevel         *float64      `json:"zoomLevel"`
	MapCenter         *types.LngLat `json:"mapCenter"`
	MapViewportBounds orb.Polygon   `json:"mapViewportBounds"`

	PointerCoordinates     *types.LngLat     `json:"pointerCoordinates"`
	LastClickedCoordinates *types.LngLat     `json:"lastClickedCoordinates"`
	PointerResolution      *types.Resolution `json:"pointerResolution"`
	LastClickedResolution  *types.Resolution `json:"lastClickedResolution"`

	VisibleLayers []string `json:"visibleLayers"`
	ActiveTool    *string  `json:"activeTool"`
}

// Clone returns a deep copy of s.
func (s AppState) Clone() AppState {
	out := s
	out.ZoomLevel = clonePtr(s.ZoomLevel)
	out.MapCenter = clonePtr(s.MapCenter)
	out.PointerCoordinates = clonePtr(s.PointerCoordinates)
	out.LastClickedCoordinates = clonePtr(s.LastClickedCoordinates)
	out.PointerResolution = clonePtr(s.PointerResolution)
	out.LastClickedResolution = clonePtr(s.LastClickedResolution)
	out.ActiveTool = clonePtr(s.ActiveTool)
	out.VisibleLayers = slices.Clone(s.VisibleLayers)
	if s.MapViewportBounds != nil {
		out.MapViewportBounds = s.MapViewportBounds.Clone()
	}
	return out
}

// Zoom returns the canonical zoom and whether it is known.
func (s AppState) Zoom() (float64, bool) {
	if s.ZoomLevel == nil {
		return 0, false
	}
	return *s.ZoomLevel, true
}

// ActiveToolID returns the active tool id or "" when none is active.
func (s AppState) ActiveToolID() string {
	if s.ActiveTool == nil {
		return ""
	}
	return *s.ActiveTool
}

// Ptr returns a pointer to v. It keeps nullable patch fields readable.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
