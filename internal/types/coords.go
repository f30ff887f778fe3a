// Package types holds the engine-independent value types shared by the
// store, the event bus and every engine adapter.
package types

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// LngLat is a geographic position as [longitude, latitude] in degrees.
type LngLat = orb.Point

// Pixel is a screen-space position relative to the map container's top-left corner.
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p shifted by dx, dy.
func (p Pixel) Add(dx, dy float64) Pixel {
	return Pixel{X: p.X + dx, Y: p.Y + dy}
}

// DistanceTo returns the euclidean screen distance between two pixels.
func (p Pixel) DistanceTo(o Pixel) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// String returns the pixel as "x,y".
func (p Pixel) String() string {
	return fmt.Sprintf("%.1f,%.1f", p.X, p.Y)
}

// Resolution is the number of degrees one screen pixel covers at a point.
// Longitude and latitude differ because Mercator-family projections are
// anisotropic away from the equator.
type Resolution struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Bounds is an axis-aligned geographic box given by its south-west and
// north-east corners.
type Bounds struct {
	SW LngLat `json:"sw"`
	NE LngLat `json:"ne"`
}

// Bound converts b to an orb.Bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: b.SW, Max: b.NE}
}

// BoundsFromBound converts an orb.Bound to Bounds.
func BoundsFromBound(b orb.Bound) Bounds {
	return Bounds{SW: b.Min, NE: b.Max}
}

// BoundsOfPolygon returns the bounds of a polygon's outer ring.
// ok is false for an empty polygon.
func BoundsOfPolygon(p orb.Polygon) (Bounds, bool) {
	if len(p) == 0 || len(p[0]) == 0 {
		return Bounds{}, false
	}
	return BoundsFromBound(p.Bound()), true
}
