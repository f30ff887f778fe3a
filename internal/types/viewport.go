package types

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Viewport is the camera state in canonical units: zoom is expressed in the
// 512 px tile convention regardless of which engine produced it, bearing is
// degrees clockwise from north and pitch is degrees away from straight down.
type Viewport struct {
	Center  LngLat  `json:"center"`
	Zoom    float64 `json:"zoom"`
	Bearing float64 `json:"bearing"`
	Pitch   float64 `json:"pitch"`
}

// String returns a compact representation of the viewport.
func (v Viewport) String() string {
	return fmt.Sprintf("center=%.6f,%.6f zoom=%.3f bearing=%.1f pitch=%.1f",
		v.Center.Lon(), v.Center.Lat(), v.Zoom, v.Bearing, v.Pitch)
}

// BoundingBox represents a geographic bounding box in WGS84 (EPSG:4326)
type BoundingBox struct {
	MinLon float64 // Western edge (degrees)
	MinLat float64 // Southern edge (degrees)
	MaxLon float64 // Eastern edge (degrees)
	MaxLat float64 // Northern edge (degrees)
}

// BoundingBoxOf returns the bounding box of b.
func BoundingBoxOf(b Bounds) BoundingBox {
	return BoundingBox{MinLon: b.SW.Lon(), MinLat: b.SW.Lat(), MaxLon: b.NE.Lon(), MaxLat: b.NE.Lat()}
}

// String returns a human-readable representation of the bounding box
func (b BoundingBox) String() string {
	return fmt.Sprintf("bbox(%.6f,%.6f,%.6f,%.6f)", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// Center returns the center point of the bounding box
func (b BoundingBox) Center() LngLat {
	return LngLat{(b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2}
}

// Width returns the width of the bounding box in degrees
func (b BoundingBox) Width() float64 {
	return b.MaxLon - b.MinLon
}

// Height returns the height of the bounding box in degrees
func (b BoundingBox) Height() float64 {
	return b.MaxLat - b.MinLat
}

// ExpandByFraction grows the box by frac of its width and height on each side.
func (b BoundingBox) ExpandByFraction(frac float64) BoundingBox {
	if frac == 0 {
		return b
	}
	dx := b.Width() * frac
	dy := b.Height() * frac
	return BoundingBox{
		MinLon: b.MinLon - dx,
		MinLat: math.Max(b.MinLat-dy, -90),
		MaxLon: b.MaxLon + dx,
		MaxLat: math.Min(b.MaxLat+dy, 90),
	}
}

// Valid reports whether the box has finite, ordered edges.
func (b BoundingBox) Valid() bool {
	for _, v := range []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.MinLon <= b.MaxLon && b.MinLat <= b.MaxLat
}

// Bound converts b to an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: LngLat{b.MinLon, b.MinLat}, Max: LngLat{b.MaxLon, b.MaxLat}}
}
