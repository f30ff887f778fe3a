package geo

import "math"

const (
	// MercatorRadius is the WGS84 semi-major axis used by Web Mercator (EPSG:3857).
	MercatorRadius = 6378137.0

	// MaxLatitude is the latitude at which Web Mercator becomes square.
	MaxLatitude = 85.0511287798066

	// scaleSearchLatitude is the search interval used for latitude lookups by
	// screen row.
	scaleSearchLatitude = 85.0511

	latitudeSearchIterations = 24
	latitudeSearchTolerance  = 0.1
)

// ClampLatitude limits lat to the Web Mercator range.
func ClampLatitude(lat float64) float64 {
	if math.IsNaN(lat) {
		return 0
	}
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

// WrapLongitude maps lon into [-180, 180).
func WrapLongitude(lon float64) float64 {
	if lon >= -180 && lon < 180 {
		return lon
	}
	w := math.Mod(lon+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

// MetersPerPixel returns the ground resolution of Web Mercator at lat for the
// given zoom and tile size. It returns 0 for non-positive tile sizes.
func MetersPerPixel(lat, zoom float64, tileSize int) float64 {
	if tileSize <= 0 {
		return 0
	}
	lat = ClampLatitude(lat)
	return 2 * math.Pi * MercatorRadius * math.Cos(lat*degToRad) / (float64(tileSize) * math.Exp2(zoom))
}

// LonLatToMercator converts WGS84 coordinates to Web Mercator (EPSG:3857)
func LonLatToMercator(lon, lat float64) (float64, float64) {
	x := MercatorRadius * lon * degToRad
	latRad := ClampLatitude(lat) * degToRad
	y := MercatorRadius * math.Log(math.Tan(math.Pi/4.0+latRad/2.0))
	return x, y
}

// MercatorToLonLat converts Web Mercator (EPSG:3857) to WGS84
func MercatorToLonLat(x, y float64) (float64, float64) {
	lon := (x / MercatorRadius) / degToRad
	lat := (math.Atan(math.Exp(y/MercatorRadius)) - math.Pi/4.0) * 2.0 / degToRad
	return lon, lat
}

// WorldSize is the pixel width of the whole world at zoom for a tile size.
func WorldSize(zoom float64, tileSize int) float64 {
	return float64(tileSize) * math.Exp2(zoom)
}

// LonLatToWorld converts a position to world pixel coordinates with the
// origin at the north-west corner of the Mercator square.
func LonLatToWorld(lon, lat, zoom float64, tileSize int) (float64, float64) {
	size := WorldSize(zoom, tileSize)
	x := (lon + 180) / 360 * size
	s := math.Sin(ClampLatitude(lat) * degToRad)
	y := (0.5 - math.Log((1+s)/(1-s))/(4*math.Pi)) * size
	return x, y
}

// WorldToLonLat is the inverse of LonLatToWorld.
func WorldToLonLat(x, y, zoom float64, tileSize int) (float64, float64) {
	size := WorldSize(zoom, tileSize)
	lon := x/size*360 - 180
	n := math.Pi - 2*math.Pi*y/size
	lat := math.Atan(math.Sinh(n)) / degToRad
	return lon, lat
}

// LatitudeAtPixelRow finds the latitude whose forward projection lands on the
// screen row targetY. project maps a latitude to its screen y and reports
// false when the latitude is not visible. Screen y grows southwards, so the
// relationship is monotonic and a bounded binary search converges without
// inverting the camera. ok is false when a probe cannot be projected.
func LatitudeAtPixelRow(project func(lat float64) (y float64, ok bool), targetY float64) (float64, bool) {
	lo, hi := -scaleSearchLatitude, scaleSearchLatitude
	mid := 0.0
	for i := 0; i < latitudeSearchIterations; i++ {
		mid = (lo + hi) / 2
		y, ok := project(mid)
		if !ok || math.IsNaN(y) {
			return 0, false
		}
		if math.Abs(y-targetY) <= latitudeSearchTolerance {
			return mid, true
		}
		if y > targetY {
			// mid is below the target row, move north
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-12 {
			break
		}
	}
	return mid, true
}
