// Package tile provides Web Mercator tile grid helpers used to expand raster
// tile templates and to enumerate the tiles a viewport covers.
package tile

import (
	"fmt"
	"math"
	"strings"

	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level the grid helpers accept.
const MaxZoom = 24

// Coords represents a tile coordinate in the XYZ (slippy map) scheme.
type Coords struct {
	Z uint32 // Zoom level
	X uint32 // Column, west to east
	Y uint32 // Row, north to south
}

// NewCoords creates a new Coords from zoom, x, y values
func NewCoords(z, x, y uint32) Coords {
	return Coords{Z: z, X: x, Y: y}
}

// String returns the tile as "z/x/y".
func (c Coords) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// TMSY returns the row in the TMS scheme, where rows count from the south.
func (c Coords) TMSY() uint32 {
	return (uint32(1) << c.Z) - 1 - c.Y
}

// Quadkey returns the Bing-style quadkey of the tile.
func (c Coords) Quadkey() string {
	var b strings.Builder
	for i := c.Z; i > 0; i-- {
		digit := byte('0')
		mask := uint32(1) << (i - 1)
		if c.X&mask != 0 {
			digit++
		}
		if c.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}

// Tile returns the maptile.Tile for this coordinate
func (c Coords) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
}

// Bound returns the geographic bounds of the tile in WGS84.
func (c Coords) Bound() orb.Bound {
	return c.Tile().Bound()
}

// BoundingBox returns the tile bounds as a types.BoundingBox.
func (c Coords) BoundingBox() types.BoundingBox {
	b := c.Bound()
	return types.BoundingBox{MinLon: b.Min.Lon(), MinLat: b.Min.Lat(), MaxLon: b.Max.Lon(), MaxLat: b.Max.Lat()}
}

// BoundsMercator returns the tile bounds in Web Mercator meters as
// [minX, minY, maxX, maxY], the order WMS requests in EPSG:3857 expect.
func (c Coords) BoundsMercator() [4]float64 {
	b := c.Bound()
	minX, minY := lonLatToMercator(b.Min.Lon(), b.Min.Lat())
	maxX, maxY := lonLatToMercator(b.Max.Lon(), b.Max.Lat())
	return [4]float64{minX, minY, maxX, maxY}
}

// Center returns the center point of the tile in WGS84.
func (c Coords) Center() orb.Point {
	return c.Bound().Center()
}

// lonLatToMercator converts WGS84 coordinates to Web Mercator (EPSG:3857)
func lonLatToMercator(lon, lat float64) (float64, float64) {
	const earthRadius = 6378137.0 // meters

	x := earthRadius * lon * math.Pi / 180.0
	latRad := lat * math.Pi / 180.0
	y := earthRadius * math.Log(math.Tan(math.Pi/4.0+latRad/2.0))

	return x, y
}

// ZoomFor returns the integer tile zoom used for a fractional native zoom.
func ZoomFor(zoom float64) uint32 {
	if math.IsNaN(zoom) || zoom < 0 {
		return 0
	}
	z := math.Floor(zoom)
	if z > MaxZoom {
		z = MaxZoom
	}
	return uint32(z)
}

// TilesInBBox returns all tile coordinates within a bounding box at a single
// zoom level. Boxes crossing the antimeridian are not split.
func TilesInBBox(bbox types.BoundingBox, zoom uint32) []Coords {
	minX, minY, maxX, maxY := tileSpan(bbox, zoom)
	tiles := make([]Coords, 0, int(maxX-minX+1)*int(maxY-minY+1))
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			tiles = append(tiles, NewCoords(zoom, x, y))
		}
	}
	return tiles
}

// TileCount returns the number of tiles in a bounding box at a zoom level
// without allocating the tile list.
func TileCount(bbox types.BoundingBox, zoom uint32) int {
	minX, minY, maxX, maxY := tileSpan(bbox, zoom)
	return int(maxX-minX+1) * int(maxY-minY+1)
}

func tileSpan(bbox types.BoundingBox, zoom uint32) (minX, minY, maxX, maxY uint32) {
	z := maptile.Zoom(zoom)
	minTile := maptile.At(orb.Point{bbox.MinLon, bbox.MinLat}, z)
	maxTile := maptile.At(orb.Point{bbox.MaxLon, bbox.MaxLat}, z)

	// Y grows southwards, so the northern edge has the smaller row.
	minX, maxX = minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY = minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	// lon = 180 and lat beyond the Mercator limit land one past the last tile
	last := uint32(1)<<zoom - 1
	return min(minX, last), min(minY, last), min(maxX, last), min(maxY, last)
}
