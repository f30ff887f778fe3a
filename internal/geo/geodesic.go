// Package geo contains the pure geodesic and projection helpers shared by the
// engine adapters and the measurement and scale tools.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// EarthRadius is the mean earth radius in meters used for great-circle
// distance and spherical area.
const EarthRadius = 6371008.8

const degToRad = math.Pi / 180.0

// HaversineDistance returns the great-circle distance between a and b in
// meters, rounded to centimeter precision.
func HaversineDistance(a, b orb.Point) float64 {
	lat1 := a.Lat() * degToRad
	lat2 := b.Lat() * degToRad
	dLat := lat2 - lat1
	dLon := (b.Lon() - a.Lon()) * degToRad

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Numerical noise can push h a hair above 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))

	d := 2 * EarthRadius * math.Asin(math.Sqrt(h))
	return math.Round(d*100) / 100
}

// PathLength returns the summed great-circle length of a line in meters.
func PathLength(ls orb.LineString) float64 {
	var total float64
	for i := 1; i < len(ls); i++ {
		total += HaversineDistance(ls[i-1], ls[i])
	}
	return math.Round(total*100) / 100
}

// GeodesicArea returns the area of a simple ring on the sphere in square
// meters. The ring may be open or closed; rings with fewer than three
// distinct vertices have zero area. The result is independent of winding
// order and of which vertex the ring starts at.
func GeodesicArea(ring orb.Ring) float64 {
	pts := openRing(ring)
	n := len(pts)
	if n < 3 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		p1 := pts[i]
		p2 := pts[(i+1)%n]
		dLon := normalizeDeltaLon(p2.Lon()-p1.Lon()) * degToRad
		sum += dLon * (2 + math.Sin(p1.Lat()*degToRad) + math.Sin(p2.Lat()*degToRad))
	}

	area := math.Abs(sum) * EarthRadius * EarthRadius / 2
	if math.IsNaN(area) || math.IsInf(area, 0) {
		return 0
	}
	return area
}

// PolygonArea returns the outer-ring area minus the hole areas of p.
func PolygonArea(p orb.Polygon) float64 {
	if len(p) == 0 {
		return 0
	}
	area := GeodesicArea(p[0])
	for _, hole := range p[1:] {
		area -= GeodesicArea(hole)
	}
	return math.Max(0, area)
}

// openRing drops a closing vertex equal to the first one.
func openRing(ring orb.Ring) []orb.Point {
	pts := []orb.Point(ring)
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	return pts
}

// normalizeDeltaLon maps a longitude difference into [-180, 180] so edges
// crossing the antimeridian take the short way round.
// Non-finite input yields NaN.
func normalizeDeltaLon(d float64) float64 {
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return math.NaN()
	}
	d = math.Mod(d, 360)
	for d > 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	return d
}
