// Package event is the typed bus for normalized map interaction events.
// Every engine adapter translates its native events into the variants
// defined here, so tools never see engine-specific event names.
package event

import "github.com/MeKo-Tech/mapbridge/internal/types"

// Type names an event variant.
type Type string

const (
	TypePointerMove   Type = "pointer-move"
	TypePointerLeave  Type = "pointer-leave"
	TypeClick         Type = "click"
	TypeDoubleClick   Type = "dblclick"
	TypeContextMenu   Type = "contextmenu"
	TypeDragStart     Type = "drag-start"
	TypeDrag          Type = "drag"
	TypeDragEnd       Type = "drag-end"
	TypeViewChange    Type = "view-change"
	TypeViewChangeEnd Type = "view-change-end"
)

// AllTypes lists every event type in declaration order.
var AllTypes = []Type{
	TypePointerMove, TypePointerLeave, TypeClick, TypeDoubleClick, TypeContextMenu,
	TypeDragStart, TypeDrag, TypeDragEnd, TypeViewChange, TypeViewChangeEnd,
}

// Event is implemented by every map event variant.
type Event interface {
	Type() Type
}

// Pointer carries the fields shared by pointer events. Coords and
// Resolution are nil when the pixel could not be inverse-projected, for
// example past the horizon of a globe.
type Pointer struct {
	Coords     *types.LngLat     `json:"coords"`
	Pixel      types.Pixel       `json:"pixel"`
	Resolution *types.Resolution `json:"resolution"`
}

type PointerMove struct{ Pointer }

type PointerLeave struct{}

type Click struct{ Pointer }

type DoubleClick struct{ Pointer }

type ContextMenu struct{ Pointer }

// DragStart begins a drag gesture.
type DragStart struct {
	Coords *types.LngLat `json:"coords"`
	Pixel  types.Pixel   `json:"pixel"`
}

// Drag is emitted while dragging; Origin is where the gesture started.
type Drag struct {
	Coords *types.LngLat `json:"coords"`
	Pixel  types.Pixel   `json:"pixel"`
	Origin *types.LngLat `json:"origin"`
}

type DragEnd struct {
	Coords *types.LngLat `json:"coords"`
	Pixel  types.Pixel   `json:"pixel"`
	Origin *types.LngLat `json:"origin"`
}

// View carries the camera fields shared by view events. Zoom is canonical.
type View struct {
	Center  types.LngLat  `json:"center"`
	Zoom    float64       `json:"zoom"`
	Bearing float64       `json:"bearing"`
	Pitch   float64       `json:"pitch"`
	Bounds  *types.Bounds `json:"bounds"`
}

type ViewChange struct{ View }

// ViewChangeEnd closes one discrete camera movement.
type ViewChangeEnd struct{ View }

func (PointerMove) Type() Type   { return TypePointerMove }
func (PointerLeave) Type() Type  { return TypePointerLeave }
func (Click) Type() Type         { return TypeClick }
func (DoubleClick) Type() Type   { return TypeDoubleClick }
func (ContextMenu) Type() Type   { return TypeContextMenu }
func (DragStart) Type() Type     { return TypeDragStart }
func (Drag) Type() Type          { return TypeDrag }
func (DragEnd) Type() Type       { return TypeDragEnd }
func (ViewChange) Type() Type    { return TypeViewChange }
func (ViewChangeEnd) Type() Type { return TypeViewChangeEnd }
