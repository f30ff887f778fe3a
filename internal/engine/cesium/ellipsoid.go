package cesium

import "math"

// WGS84 ellipsoid radii in meters.
const (
	RadiusEquator = 6378137.0
	RadiusPolar   = 6356752.3142451793
)

var eccSquared = 1 - (RadiusPolar*RadiusPolar)/(RadiusEquator*RadiusEquator)

// Cartesian3 is an earth-centered, earth-fixed position in meters.
type Cartesian3 struct {
	X, Y, Z float64
}

func (a Cartesian3) Add(b Cartesian3) Cartesian3 { return Cartesian3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Cartesian3) Sub(b Cartesian3) Cartesian3 { return Cartesian3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Cartesian3) Scale(s float64) Cartesian3  { return Cartesian3{a.X * s, a.Y * s, a.Z * s} }
func (a Cartesian3) Dot(b Cartesian3) float64    { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Cartesian3) Magnitude() float64          { return math.Sqrt(a.Dot(a)) }

func (a Cartesian3) Cross(b Cartesian3) Cartesian3 {
	return Cartesian3{a.Y*b.Z - a.Z*b.Y, a.Z*b.X - a.X*b.Z, a.X*b.Y - a.Y*b.X}
}

// Normalize returns a unit vector; the zero vector is returned unchanged.
func (a Cartesian3) Normalize() Cartesian3 {
	m := a.Magnitude()
	if m == 0 {
		return a
	}
	return a.Scale(1 / m)
}

// Cartographic is a geodetic position. Longitude and Latitude are radians.
type Cartographic struct {
	Longitude float64
	Latitude  float64
	Height    float64
}

// FromDegrees builds a Cartographic on the ellipsoid surface.
func FromDegrees(lon, lat float64) Cartographic {
	return Cartographic{Longitude: lon * math.Pi / 180, Latitude: lat * math.Pi / 180}
}

// Degrees returns longitude and latitude in degrees.
func (c Cartographic) Degrees() (lon, lat float64) {
	return c.Longitude * 180 / math.Pi, c.Latitude * 180 / math.Pi
}

// ToCartesian converts a geodetic position to ECEF.
func (c Cartographic) ToCartesian() Cartesian3 {
	sinLat, cosLat := math.Sincos(c.Latitude)
	sinLon, cosLon := math.Sincos(c.Longitude)
	n := RadiusEquator / math.Sqrt(1-eccSquared*sinLat*sinLat)
	return Cartesian3{
		X: (n + c.Height) * cosLat * cosLon,
		Y: (n + c.Height) * cosLat * sinLon,
		Z: (n*(1-eccSquared) + c.Height) * sinLat,
	}
}

// ToCartographic converts an ECEF position to geodetic coordinates.
func ToCartographic(p Cartesian3) Cartographic {
	lon := math.Atan2(p.Y, p.X)
	r := math.Hypot(p.X, p.Y)
	if r == 0 {
		lat := math.Copysign(math.Pi/2, p.Z)
		return Cartographic{Longitude: lon, Latitude: lat, Height: math.Abs(p.Z) - RadiusPolar}
	}
	lat := math.Atan2(p.Z, r*(1-eccSquared))
	var h float64
	for range 6 {
		sinLat := math.Sin(lat)
		n := RadiusEquator / math.Sqrt(1-eccSquared*sinLat*sinLat)
		h = r/math.Cos(lat) - n
		lat = math.Atan2(p.Z, r*(1-eccSquared*n/(n+h)))
	}
	return Cartographic{Longitude: lon, Latitude: lat, Height: h}
}

// ENU returns the east, north and up unit vectors at a surface position.
func ENU(c Cartographic) (east, north, up Cartesian3) {
	sinLat, cosLat := math.Sincos(c.Latitude)
	sinLon, cosLon := math.Sincos(c.Longitude)
	east = Cartesian3{-sinLon, cosLon, 0}
	north = Cartesian3{-sinLat * cosLon, -sinLat * sinLon, cosLat}
	up = Cartesian3{cosLat * cosLon, cosLat * sinLon, sinLat}
	return east, north, up
}

// IntersectEllipsoid returns the nearest point where the ray from origin
// along dir meets the ellipsoid surface.
func IntersectEllipsoid(origin, dir Cartesian3) (Cartesian3, bool) {
	// scale to the unit sphere
	o := Cartesian3{origin.X / RadiusEquator, origin.Y / RadiusEquator, origin.Z / RadiusPolar}
	d := Cartesian3{dir.X / RadiusEquator, dir.Y / RadiusEquator, dir.Z / RadiusPolar}
	a := d.Dot(d)
	b := 2 * o.Dot(d)
	c := o.Dot(o) - 1
	disc := b*b - 4*a*c
	if a == 0 || disc < 0 {
		return Cartesian3{}, false
	}
	sq := math.Sqrt(disc)
	t := (-b - sq) / (2 * a)
	if t < 0 {
		t = (-b + sq) / (2 * a)
	}
	if t < 0 {
		return Cartesian3{}, false
	}
	return origin.Add(dir.Scale(t)), true
}
