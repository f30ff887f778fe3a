package engine

import (
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
)

func TestPlanar_ProjectUnprojectRoundTrip(t *testing.T) {
	for _, bearing := range []float64{0, 45, 90, -120} {
		p := Planar{TileSize: 256, Width: 800, Height: 600, Center: types.LngLat{4.9, 52.4}, Zoom: 11, Bearing: bearing}
		ll := types.LngLat{4.95, 52.37}
		px := p.Project(ll)
		back := p.Unproject(px)
		assert.InDelta(t, ll.Lon(), back.Lon(), 1e-9, "bearing %v", bearing)
		assert.InDelta(t, ll.Lat(), back.Lat(), 1e-9, "bearing %v", bearing)
	}
}

func TestPlanar_BearingRotatesScreen(t *testing.T) {
	p := Planar{TileSize: 512, Width: 400, Height: 400, Zoom: 3, Bearing: 90}
	east := p.Project(types.LngLat{10, 0})
	assert.InDelta(t, 200, east.X, 1e-6)
	assert.Less(t, east.Y, 200.0, "east is up when bearing is 90")
}

func TestPlanar_BoundsAndPan(t *testing.T) {
	p := Planar{TileSize: 512, Width: 512, Height: 512, Zoom: 0}
	b := p.Bounds()
	assert.InDelta(t, -180, b.SW.Lon(), 1e-9)
	assert.InDelta(t, 180, b.NE.Lon(), 1e-9)

	p.Zoom = 4
	c := p.PanBy(-10, 0)
	assert.Greater(t, c.Lon(), 0.0, "dragging content left moves the center east")
}

func TestFitZoom(t *testing.T) {
	_, z := FitZoom(orb.Bound{Min: orb.Point{-180, -85}, Max: orb.Point{180, 85}}, 512, 512, 512, 0)
	assert.InDelta(t, 0, z, 0.01)

	center, z := FitZoom(orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{1, 1}}, 512, 512, 512, 0)
	assert.Equal(t, float64(MaxFitZoom), z)
	assert.InDelta(t, 1, center.Lon(), 1e-9)
}
