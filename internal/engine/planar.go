package engine

import (
	"math"

	"github.com/MeKo-Tech/mapbridge/internal/geo"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

// MaxFitZoom caps FitZoom for degenerate (single point) bounds.
const MaxFitZoom = 20

// Planar is a top-down Web Mercator camera in native units. Headless
// engines use it for projection; pitch foreshortening is not modelled.
type Planar struct {
	TileSize int
	Width    float64
	Height   float64
	Center   types.LngLat
	Zoom     float64
	// Bearing is degrees clockwise from north.
	Bearing float64
}

func (p Planar) rotation() (sin, cos float64) {
	return math.Sincos(p.Bearing * math.Pi / 180)
}

// Project converts a position to a container pixel.
func (p Planar) Project(ll types.LngLat) types.Pixel {
	cx, cy := geo.LonLatToWorld(p.Center.Lon(), p.Center.Lat(), p.Zoom, p.TileSize)
	wx, wy := geo.LonLatToWorld(ll.Lon(), ll.Lat(), p.Zoom, p.TileSize)
	dx, dy := wx-cx, wy-cy
	sin, cos := p.rotation()
	// rotate by -bearing
	sx := dx*cos + dy*sin
	sy := -dx*sin + dy*cos
	return types.Pixel{X: p.Width/2 + sx, Y: p.Height/2 + sy}
}

// Unproject converts a container pixel to a position. Longitudes are not
// wrapped so bounds across the antimeridian stay ordered.
func (p Planar) Unproject(px types.Pixel) types.LngLat {
	sx, sy := px.X-p.Width/2, px.Y-p.Height/2
	sin, cos := p.rotation()
	dx := sx*cos - sy*sin
	dy := sx*sin + sy*cos
	cx, cy := geo.LonLatToWorld(p.Center.Lon(), p.Center.Lat(), p.Zoom, p.TileSize)
	lon, lat := geo.WorldToLonLat(cx+dx, cy+dy, p.Zoom, p.TileSize)
	return types.LngLat{lon, lat}
}

// Bounds returns the axis-aligned box around the four container corners.
func (p Planar) Bounds() types.Bounds {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, px := range []types.Pixel{{}, {X: p.Width}, {X: p.Width, Y: p.Height}, {Y: p.Height}} {
		b = b.Extend(p.Unproject(px))
	}
	return types.BoundsFromBound(b)
}

// PanBy returns the center after the map content is dragged by dx, dy pixels.
func (p Planar) PanBy(dx, dy float64) types.LngLat {
	c := p.Unproject(types.Pixel{X: p.Width/2 - dx, Y: p.Height/2 - dy})
	return types.LngLat{geo.WrapLongitude(c.Lon()), geo.ClampLatitude(c.Lat())}
}

// FitZoom returns the center and zoom at which b fills a width x height
// container with padding pixels on every side.
func FitZoom(b orb.Bound, width, height float64, tileSize int, padding float64) (types.LngLat, float64) {
	x0, y0 := geo.LonLatToWorld(b.Min.Lon(), b.Max.Lat(), 0, tileSize)
	x1, y1 := geo.LonLatToWorld(b.Max.Lon(), b.Min.Lat(), 0, tileSize)
	lon, lat := geo.WorldToLonLat((x0+x1)/2, (y0+y1)/2, 0, tileSize)
	center := types.LngLat{lon, lat}

	w := math.Max(width-2*padding, 1)
	h := math.Max(height-2*padding, 1)
	dx, dy := x1-x0, y1-y0
	if dx <= 0 && dy <= 0 {
		return center, MaxFitZoom
	}
	scale := math.Inf(1)
	if dx > 0 {
		scale = w / dx
	}
	if dy > 0 {
		scale = math.Min(scale, h/dy)
	}
	return center, math.Min(math.Log2(scale), MaxFitZoom)
}
