package state

import (
	"slices"

	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

type field uint16

const (
	fieldMapLoaded field = 1 << iota
	fieldMapBusy
	fieldZoomLevel
	fieldMapCenter
	fieldMapViewportBounds
	fieldPointerCoordinates
	fieldLastClickedCoordinates
	fieldPointerResolution
	fieldLastClickedResolution
	fieldVisibleLayers
	fieldActiveTool
)

// Patch is a partial AppState. Only fields set through its builder methods
// are merged; passing nil to a nullable setter clears that field.
// Patch values are immutable: every setter returns a modified copy.
type Patch struct {
	set    field
	values AppState
}

// Empty reports whether the patch sets no field.
func (p Patch) Empty() bool { return p.set == 0 }

func (p Patch) SetMapLoaded(v bool) Patch {
	p.set |= fieldMapLoaded
	p.values.MapLoaded = v
	return p
}

func (p Patch) SetMapBusy(v bool) Patch {
	p.set |= fieldMapBusy
	p.values.MapBusy = v
	return p
}

func (p Patch) SetZoomLevel(v *float64) Patch {
	p.set |= fieldZoomLevel
	p.values.ZoomLevel = clonePtr(v)
	return p
}

func (p Patch) SetMapCenter(v *types.LngLat) Patch {
	p.set |= fieldMapCenter
	p.values.MapCenter = clonePtr(v)
	return p
}

func (p Patch) SetMapViewportBounds(v orb.Polygon) Patch {
	p.set |= fieldMapViewportBounds
	if v != nil {
		v = v.Clone()
	}
	p.values.MapViewportBounds = v
	return p
}

func (p Patch) SetPointerCoordinates(v *types.LngLat) Patch {
	p.set |= fieldPointerCoordinates
	p.values.PointerCoordinates = clonePtr(v)
	return p
}

func (p Patch) SetLastClickedCoordinates(v *types.LngLat) Patch {
	p.set |= fieldLastClickedCoordinates
	p.values.LastClickedCoordinates = clonePtr(v)
	return p
}

func (p Patch) SetPointerResolution(v *types.Resolution) Patch {
	p.set |= fieldPointerResolution
	p.values.PointerResolution = clonePtr(v)
	return p
}

func (p Patch) SetLastClickedResolution(v *types.Resolution) Patch {
	p.set |= fieldLastClickedResolution
	p.values.LastClickedResolution = clonePtr(v)
	return p
}

func (p Patch) SetVisibleLayers(v []string) Patch {
	p.set |= fieldVisibleLayers
	p.values.VisibleLayers = slices.Clone(v)
	return p
}

func (p Patch) SetActiveTool(v *string) Patch {
	p.set |= fieldActiveTool
	p.values.ActiveTool = clonePtr(v)
	return p
}

// Has reports whether the patch sets every field of other.
// It lets consumers check a Patch built elsewhere, mostly in tests.
func (p Patch) Has(other Patch) bool {
	return other.set != 0 && p.set&other.set == other.set
}

// apply shallow-merges p into s. Fields are replaced, never mutated.
func (p Patch) apply(s AppState) AppState {
	v := p.values
	if p.set&fieldMapLoaded != 0 {
		s.MapLoaded = v.MapLoaded
	}
	if p.set&fieldMapBusy != 0 {
		s.MapBusy = v.MapBusy
	}
	if p.set&fieldZoomLevel != 0 {
		s.ZoomLevel = clonePtr(v.ZoomLevel)
	}
	if p.set&fieldMapCenter != 0 {
		s.MapCenter = clonePtr(v.MapCenter)
	}
	if p.set&fieldMapViewportBounds != 0 {
		s.MapViewportBounds = nil
		if v.MapViewportBounds != nil {
			s.MapViewportBounds = v.MapViewportBounds.Clone()
		}
	}
	if p.set&fieldPointerCoordinates != 0 {
		s.PointerCoordinates = clonePtr(v.PointerCoordinates)
	}
	if p.set&fieldLastClickedCoordinates != 0 {
		s.LastClickedCoordinates = clonePtr(v.LastClickedCoordinates)
	}
	if p.set&fieldPointerResolution != 0 {
		s.PointerResolution = clonePtr(v.PointerResolution)
	}
	if p.set&fieldLastClickedResolution != 0 {
		s.LastClickedResolution = clonePtr(v.LastClickedResolution)
	}
	if p.set&fieldVisibleLayers != 0 {
		s.VisibleLayers = slices.Clone(v.VisibleLayers)
	}
	if p.set&fieldActiveTool != 0 {
		s.ActiveTool = clonePtr(v.ActiveTool)
	}
	return s
}
