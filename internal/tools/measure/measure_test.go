package measure

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/engine/maplibre"
	"github.com/MeKo-Tech/mapbridge/internal/geo"
	"github.com/MeKo-Tech/mapbridge/internal/tools"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	adapter engine.Adapter
	native  *maplibre.Headless
	mgr     *tools.Manager
	tool    *Tool
	results []Result
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{}
	load := func(o maplibre.MapOptions) (maplibre.Native, error) {
		f.native = maplibre.NewHeadless(o)
		return f.native, nil
	}
	a, err := maplibre.NewFactory(load)(context.Background(), engine.Deps{Logger: logger, Throttle: -1})
	require.NoError(t, err)
	require.NoError(t, a.Core().Initialize(context.Background(), engine.Container{Width: 800, Height: 600},
		engine.Options{Center: types.LngLat{4.9, 52.4}, Zoom: 10}))
	t.Cleanup(a.Destroy)

	f.adapter = a
	f.mgr = tools.NewManager(a.Store(), logger)
	f.tool = New(a, f.mgr, Options{}, func(r Result) { f.results = append(f.results, r) }, logger)
	require.NoError(t, f.mgr.Register(f.tool))
	require.NoError(t, f.mgr.Activate(ID))
	return f
}

func (f *fixture) click(x, y float64) { f.native.Click(types.Pixel{X: x, Y: y}) }

func TestMeasure_ClosesPolygonNearFirstVertex(t *testing.T) {
	f := setup(t)

	f.click(100, 100)
	f.click(300, 100)
	f.click(300, 300)
	require.Len(t, f.tool.Vertices(), 3)

	f.click(105, 103)

	require.Len(t, f.results, 1)
	r := f.results[0]
	assert.True(t, r.Closed)
	assert.Len(t, r.Coordinates, 3)
	assert.Greater(t, r.AreaM2, 0.0)
	assert.InDelta(t, geo.GeodesicArea(orb.Ring(r.Coordinates)), r.AreaM2, 1e-6)
	assert.Empty(t, f.tool.Vertices())

	_, ok := r.Geometry().(orb.Polygon)
	assert.True(t, ok)
	assert.Contains(t, r.Feature().Properties, "area_m2")
}

func TestMeasure_FinishesLineNearLastVertex(t *testing.T) {
	f := setup(t)

	f.click(100, 100)
	f.click(400, 100)
	f.click(402, 101)

	require.Len(t, f.results, 1)
	r := f.results[0]
	assert.False(t, r.Closed)
	require.Len(t, r.Coordinates, 2)
	assert.InDelta(t, geo.HaversineDistance(r.Coordinates[0], r.Coordinates[1]), r.LengthM, 0.01)
	assert.Zero(t, r.AreaM2)

	last, ok := f.tool.Last()
	require.True(t, ok)
	assert.Equal(t, r, last)
}

func TestMeasure_DoubleClickFinishesLine(t *testing.T) {
	f := setup(t)

	f.click(100, 100)
	f.native.DblClick(types.Pixel{X: 100, Y: 100})
	assert.Empty(t, f.results, "one vertex is not a line")

	f.click(200, 200)
	f.native.DblClick(types.Pixel{X: 200, Y: 200})
	require.Len(t, f.results, 1)
	assert.Len(t, f.results[0].Coordinates, 2)
}

func TestMeasure_SketchDoesNotMarkMapBusy(t *testing.T) {
	f := setup(t)

	f.click(100, 100)
	f.click(200, 100)

	assert.True(t, f.adapter.Layers().HasLayer(sketchID))
	assert.False(t, f.adapter.Store().State().MapBusy)
}

func TestMeasure_DeactivateRemovesSketch(t *testing.T) {
	f := setup(t)
	f.click(100, 100)
	f.click(200, 100)

	f.mgr.Deactivate()

	assert.False(t, f.adapter.Layers().HasLayer(sketchID))
	_, ok := f.adapter.Layers().Source(sketchID)
	assert.False(t, ok)
	assert.Empty(t, f.tool.Vertices())

	f.click(300, 300)
	assert.Empty(t, f.tool.Vertices(), "inactive tool ignores clicks")
}

func TestMeasure_DirectDeactivateGoesThroughManager(t *testing.T) {
	f := setup(t)

	f.tool.Deactivate()

	assert.Equal(t, "", f.mgr.ActiveID())
	assert.Nil(t, f.adapter.Store().State().ActiveTool)
}

func TestMeasure_LiveLength(t *testing.T) {
	f := setup(t)
	f.click(100, 100)
	f.click(200, 100)
	f.click(200, 200)

	live := f.tool.Live()
	assert.False(t, live.Closed)
	assert.Greater(t, live.LengthM, 0.0)
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{FinishThresholdPx: 4}.withDefaults()
	assert.Equal(t, DefaultCloseThresholdPx, o.CloseThresholdPx)
	assert.Equal(t, 4.0, o.FinishThresholdPx)
}
