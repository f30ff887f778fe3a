package scale

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/engine/maplibre"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T) engine.Adapter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := maplibre.NewFactory(nil)(context.Background(), engine.Deps{Logger: logger, Throttle: -1})
	require.NoError(t, err)
	require.NoError(t, a.Core().Initialize(context.Background(), engine.Container{Width: 800, Height: 600},
		engine.Options{Center: types.LngLat{4.9, 52.4}, Zoom: 10}))
	t.Cleanup(a.Destroy)
	return a
}

func TestNiceNumber(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1, 1},
		{1.9, 1},
		{2, 2},
		{4.99, 2},
		{7, 5},
		{99, 50},
		{1234, 1000},
		{0.37, 0.2},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, niceNumber(tt.in), 1e-9, "niceNumber(%v)", tt.in)
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name      string
		maxMeters float64
		units     Units
		label     string
		width     float64
	}{
		{"meters", 740, Metric, "500 m", 100 * 500 / 740.0},
		{"kilometers", 2600, Metric, "2 km", 100 * 2000 / 2600.0},
		{"feet", 100, Imperial, "200 ft", 100 * 200 * metersPerFoot / 100},
		{"miles", 5000, Imperial, "2 mi", 100 * 2 * feetPerMile * metersPerFoot / 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := fit(tt.maxMeters, 100, tt.units)
			assert.Equal(t, tt.label, b.Label)
			assert.InDelta(t, tt.width, b.WidthPx, 1e-9)
			assert.LessOrEqual(t, b.WidthPx, 100.0)
		})
	}
}

func TestFit_Unavailable(t *testing.T) {
	assert.False(t, fit(0, 100, Metric).Available())
	assert.False(t, fit(-1, 100, Metric).Available())
}

func TestCompute_MatchesGroundDistance(t *testing.T) {
	a := newAdapter(t)
	core := a.Core()

	bar := Compute(core, 150, 580, Metric)
	require.True(t, bar.Available())
	assert.LessOrEqual(t, bar.WidthPx, 150.0)

	lat, ok := core.LatitudeAtPixelRow(580)
	require.True(t, ok)
	start, ok := core.Project(types.LngLat{4.9, lat})
	require.True(t, ok)
	end, ok := core.Unproject(types.Pixel{X: start.X + bar.WidthPx, Y: start.Y})
	require.True(t, ok)

	ground := orbgeo.DistanceHaversine(types.LngLat{4.9, lat}, end)
	assert.InEpsilon(t, bar.Meters, ground, 0.01)
}

type noScaleRow struct{ engine.Core }

func (noScaleRow) LatitudeAtPixelRow(float64) (float64, bool) { return 0, false }

func TestCompute_UnprojectableRowIsZeroWidth(t *testing.T) {
	a := newAdapter(t)
	bar := Compute(noScaleRow{a.Core()}, 150, 580, Metric)
	assert.Equal(t, Bar{}, bar)
}

func TestControl_UpdatesOnViewChangeEnd(t *testing.T) {
	a := newAdapter(t)
	var bars []Bar
	c := NewControl(a, 120, 20, "", func(b Bar) { bars = append(bars, b) }, nil)

	c.Activate()
	require.Len(t, bars, 1)
	first := c.Bar()
	assert.True(t, first.Available())

	require.NoError(t, a.Core().SetZoom(6))
	require.NotEmpty(t, bars)
	assert.Greater(t, c.Bar().Meters, first.Meters)

	c.Deactivate()
	n := len(bars)
	require.NoError(t, a.Core().SetZoom(12))
	assert.Len(t, bars, n)
}
