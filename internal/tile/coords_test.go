package tile

import (
	"math"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/types"
)

func TestCoordsString(t *testing.T) {
	tests := []struct {
		coords   Coords
		expected string
	}{
		{Coords{Z: 13, X: 4297, Y: 2754}, "13/4297/2754"},
		{Coords{Z: 0, X: 0, Y: 0}, "0/0/0"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.coords.String(); result != tt.expected {
				t.Errorf("String() = %s, want %s", result, tt.expected)
			}
		})
	}
}

func TestCoordsTMSY(t *testing.T) {
	c := Coords{Z: 3, X: 1, Y: 2}
	if got := c.TMSY(); got != 5 {
		t.Errorf("TMSY() = %d, want 5", got)
	}
	if got := (Coords{}).TMSY(); got != 0 {
		t.Errorf("TMSY() at z0 = %d, want 0", got)
	}
}

func TestCoordsQuadkey(t *testing.T) {
	tests := []struct {
		coords Coords
		want   string
	}{
		{Coords{Z: 0}, ""},
		{Coords{Z: 1, X: 1, Y: 0}, "1"},
		{Coords{Z: 3, X: 3, Y: 5}, "213"},
	}
	for _, tt := range tests {
		if got := tt.coords.Quadkey(); got != tt.want {
			t.Errorf("Quadkey(%s) = %q, want %q", tt.coords, got, tt.want)
		}
	}
}

func TestCoordsBounds(t *testing.T) {
	// Tile covering Hanover
	coords := Coords{Z: 13, X: 4297, Y: 2754}
	b := coords.BoundingBox()

	if b.MinLon < -10.0 || b.MinLon > 40.0 {
		t.Errorf("minLon %.6f is outside expected range for Europe", b.MinLon)
	}
	if b.MinLat < 35.0 || b.MinLat > 70.0 {
		t.Errorf("minLat %.6f is outside expected range for Europe", b.MinLat)
	}
	if !b.Valid() {
		t.Errorf("bounds not ordered: %s", b)
	}

	center := coords.Center()
	if center.Lon() < b.MinLon || center.Lon() > b.MaxLon || center.Lat() < b.MinLat || center.Lat() > b.MaxLat {
		t.Errorf("center %v outside bounds %s", center, b)
	}
}

func TestCoordsBoundsMercator(t *testing.T) {
	mb := Coords{Z: 13, X: 4297, Y: 2754}.BoundsMercator()

	if mb[0] >= mb[2] || mb[1] >= mb[3] {
		t.Errorf("mercator bounds not ordered: %v", mb)
	}
	for i, val := range mb {
		if math.Abs(val) > 20037508.35 {
			t.Errorf("Mercator coordinate[%d] = %.2f is out of valid range", i, val)
		}
	}

	world := Coords{}.BoundsMercator()
	if math.Abs(world[2]-20037508.34) > 0.01 {
		t.Errorf("world tile maxX = %.2f, want 20037508.34", world[2])
	}
}

func TestZoomFor(t *testing.T) {
	tests := map[float64]uint32{-1: 0, 0: 0, 10.9: 10, 11: 11, 40: MaxZoom}
	for in, want := range tests {
		if got := ZoomFor(in); got != want {
			t.Errorf("ZoomFor(%v) = %d, want %d", in, got, want)
		}
	}
	if got := ZoomFor(math.NaN()); got != 0 {
		t.Errorf("ZoomFor(NaN) = %d, want 0", got)
	}
}

func TestTilesInBBox(t *testing.T) {
	single := Coords{Z: 13, X: 4297, Y: 2754}
	inner := single.BoundingBox().ExpandByFraction(-0.1)

	tiles := TilesInBBox(inner, 13)
	if len(tiles) != 1 || tiles[0] != single {
		t.Fatalf("TilesInBBox = %v, want [%s]", tiles, single)
	}

	bbox := types.BoundingBox{MinLon: 9.7, MinLat: 52.3, MaxLon: 9.9, MaxLat: 52.4}
	for z := uint32(8); z <= 12; z++ {
		got := TilesInBBox(bbox, z)
		if len(got) != TileCount(bbox, z) {
			t.Errorf("z%d: TilesInBBox returned %d tiles, TileCount %d", z, len(got), TileCount(bbox, z))
		}
		for _, c := range got {
			if c.Z != z {
				t.Errorf("tile %s has wrong zoom", c)
			}
		}
	}
}
