package cesium

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartographicRoundTrip(t *testing.T) {
	tests := []struct {
		lon, lat, h float64
	}{
		{0, 0, 0},
		{4.9, 52.4, 0},
		{-122.4, 37.8, 1500},
		{179.9, -85, 0},
		{13.4, 89.9, 10},
	}
	for _, tt := range tests {
		c := FromDegrees(tt.lon, tt.lat)
		c.Height = tt.h
		got := ToCartographic(c.ToCartesian())
		lon, lat := got.Degrees()
		assert.InDelta(t, tt.lon, lon, 1e-9)
		assert.InDelta(t, tt.lat, lat, 1e-9)
		assert.InDelta(t, tt.h, got.Height, 1e-4)
	}
}

func TestCartesianOfEquatorAndPole(t *testing.T) {
	eq := FromDegrees(0, 0).ToCartesian()
	assert.InDelta(t, RadiusEquator, eq.X, 1e-6)
	assert.InDelta(t, 0, eq.Z, 1e-6)

	pole := FromDegrees(0, 90).ToCartesian()
	assert.InDelta(t, RadiusPolar, pole.Z, 1e-6)
}

func TestENUIsOrthonormal(t *testing.T) {
	e, n, u := ENU(FromDegrees(4.9, 52.4))
	for _, v := range []Cartesian3{e, n, u} {
		assert.InDelta(t, 1, v.Magnitude(), 1e-12)
	}
	assert.InDelta(t, 0, e.Dot(n), 1e-12)
	assert.InDelta(t, 0, e.Dot(u), 1e-12)
	assert.InDelta(t, 0, n.Dot(u), 1e-12)
	// right-handed: east x north = up
	c := e.Cross(n)
	assert.InDelta(t, u.X, c.X, 1e-12)
	assert.InDelta(t, u.Z, c.Z, 1e-12)
}

func TestIntersectEllipsoid(t *testing.T) {
	origin := Cartesian3{X: 2 * RadiusEquator}

	hit, ok := IntersectEllipsoid(origin, Cartesian3{X: -1})
	require.True(t, ok)
	assert.InDelta(t, RadiusEquator, hit.X, 1e-6)

	_, ok = IntersectEllipsoid(origin, Cartesian3{Y: 1})
	assert.False(t, ok, "ray parallel to the surface misses")

	_, ok = IntersectEllipsoid(origin, Cartesian3{X: 1})
	assert.False(t, ok, "ray pointing away misses")

	// grazing just inside the limb still hits
	limb := math.Asin(RadiusEquator/(2*RadiusEquator)) - 1e-6
	_, ok = IntersectEllipsoid(origin, Cartesian3{X: -math.Cos(limb), Y: math.Sin(limb)})
	assert.True(t, ok)
}
