package openlayers

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/event"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) (engine.Adapter, *Headless) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var h *Headless
	load := func(o MapOptions) (Native, error) {
		h = NewHeadless(o)
		return h, nil
	}
	a, err := NewFactory(load)(context.Background(), engine.Deps{Logger: logger, Throttle: -1})
	require.NoError(t, err)
	require.NoError(t, a.Core().Initialize(context.Background(), engine.Container{Width: 800, Height: 600},
		engine.Options{Center: types.LngLat{4.9, 52.4}, Zoom: 10}))
	require.NotNil(t, h)
	t.Cleanup(a.Destroy)
	return a, h
}

func TestResolutionZoomRoundTrip(t *testing.T) {
	for _, z := range []float64{0, 1, 7.5, 11, 19} {
		assert.InDelta(t, z, ZoomForResolution(ResolutionForZoom(z)), 1e-9)
	}
	assert.InDelta(t, 156543.03392804097, ResolutionForZoom(0), 1e-6)
}

func TestInitialize_NativeZoomIsOneAboveCanonical(t *testing.T) {
	a, h := newTestAdapter(t)

	assert.InDelta(t, ResolutionForZoom(11), h.GetView().Resolution, 1e-9)
	assert.InDelta(t, 10, a.Core().Zoom(), 1e-9)

	s := a.Store().State()
	require.NotNil(t, s.ZoomLevel)
	assert.InDelta(t, 10, *s.ZoomLevel, 1e-9)
	require.NotNil(t, s.MapCenter)
	assert.InDelta(t, 4.9, s.MapCenter.Lon(), 1e-9)
	assert.InDelta(t, 52.4, s.MapCenter.Lat(), 1e-9)
}

func TestPitchNotSupported(t *testing.T) {
	a, _ := newTestAdapter(t)
	assert.ErrorIs(t, a.Core().SetPitch(30), engine.ErrNotSupported)
	assert.Zero(t, a.Core().Pitch())
	assert.NoError(t, a.Core().ResetNorthPitch())
}

func TestSetBearing_RadiansClockwise(t *testing.T) {
	a, h := newTestAdapter(t)

	require.NoError(t, a.Core().SetBearing(90))
	assert.InDelta(t, math.Pi/2, h.GetView().Rotation, 1e-12)
	assert.InDelta(t, 90, a.Core().Bearing(), 1e-9)

	require.NoError(t, a.Core().ResetNorth())
	assert.Zero(t, h.GetView().Rotation)
}

func TestDragPan_DerivesDragStartAndEnd(t *testing.T) {
	a, h := newTestAdapter(t)

	counts := map[event.Type]int{}
	var origins []*types.LngLat
	for _, typ := range []event.Type{event.TypeDragStart, event.TypeDrag, event.TypeDragEnd, event.TypeViewChangeEnd} {
		a.Bus().On(typ, func(e event.Event) {
			counts[e.Type()]++
			if d, ok := e.(event.DragEnd); ok {
				origins = append(origins, d.Origin)
			}
		})
	}

	h.DragPan(types.Pixel{X: 400, Y: 300}, types.Pixel{X: 400, Y: 200}, 4)

	assert.Equal(t, 1, counts[event.TypeDragStart])
	assert.Equal(t, 4, counts[event.TypeDrag])
	assert.Equal(t, 1, counts[event.TypeDragEnd])
	assert.Equal(t, 1, counts[event.TypeViewChangeEnd])
	require.Len(t, origins, 1)
	require.NotNil(t, origins[0])

	// content dragged up moves the center south
	assert.Less(t, a.Store().State().MapCenter.Lat(), 52.4)
}

func TestWMSLayer_TileCountingDrivesBusy(t *testing.T) {
	a, h := newTestAdapter(t)

	require.NoError(t, a.Layers().AddSource(catalog.Source{
		ID:     "wms",
		Type:   catalog.KindRasterWMS,
		URL:    "https://wms.example/service?map=roads",
		Params: map[string]string{"LAYERS": "roads"},
	}))
	require.NoError(t, a.Layers().AddLayer(catalog.Layer{ID: "roads", Layerset: []catalog.StyleLayer{{Source: "wms", Type: catalog.StyleRaster}}}))

	assert.True(t, a.Store().State().MapBusy)
	reqs := h.Requests()
	require.NotEmpty(t, reqs)
	for _, r := range reqs {
		assert.Contains(t, r, "https://wms.example/service?map=roads&SERVICE=WMS")
		assert.Contains(t, r, "LAYERS=roads")
		assert.Contains(t, r, "BBOX=")
		assert.NotContains(t, r, "{bbox")
	}

	ls := h.Layers()
	require.Len(t, ls, 1)
	assert.Equal(t, LayerTile, ls[0].Kind)
	assert.Equal(t, SourceTileWMS, ls[0].Source.Kind)

	h.Idle()
	assert.False(t, a.Store().State().MapBusy)
}

func TestSuppressedSourceDoesNotSignalBusy(t *testing.T) {
	a, h := newTestAdapter(t)

	a.Core().SuppressBusySignalForSource("src-osm")
	require.NoError(t, a.Layers().AddSource(catalog.Source{ID: "osm", Type: catalog.KindRasterXYZ, URL: "https://t.example/{z}/{x}/{y}.png"}))
	require.NoError(t, a.Layers().AddLayer(catalog.Layer{ID: "base", Layerset: []catalog.StyleLayer{{Source: "osm"}}}))

	assert.NotEmpty(t, h.Requests())
	assert.False(t, a.Store().State().MapBusy)
}

func TestRestyleOnZoomEnd(t *testing.T) {
	a, h := newTestAdapter(t)

	require.NoError(t, a.Layers().AddSource(catalog.Source{ID: "pts", Type: catalog.KindGeoJSON, URL: "https://data.example/pts.geojson"}))
	require.NoError(t, a.Layers().AddLayer(catalog.Layer{
		ID: "pts",
		Layerset: []catalog.StyleLayer{{
			Source:  "pts",
			Type:    catalog.StyleCircle,
			MinZoom: 5,
			Paint: map[string]any{
				"circle-color":   "#f00",
				"circle-opacity": map[string]any{"stops": []any{[]any{5, 0.0}, []any{15, 1.0}}},
			},
		}},
	}))

	ls := h.Layers()
	require.Len(t, ls, 1)
	assert.Equal(t, LayerVector, ls[0].Kind)
	assert.Equal(t, 6.0, ls[0].MinZoom)
	assert.Equal(t, "#f00", ls[0].Style["circle-color"])
	assert.InDelta(t, 0.5, ls[0].Style["circle-opacity"], 1e-9)
	assert.Equal(t, []string{"https://data.example/pts.geojson"}, h.Requests())

	require.NoError(t, a.Core().SetZoom(12))
	ls = h.Layers()
	assert.InDelta(t, 0.7, ls[0].Style["circle-opacity"], 1e-9)
}

func TestPointerLeaveClearsCoordinates(t *testing.T) {
	a, h := newTestAdapter(t)

	h.PointerMove(types.Pixel{X: 100, Y: 100})
	s := a.Store().State()
	require.NotNil(t, s.PointerCoordinates)
	require.NotNil(t, s.PointerResolution)
	assert.Greater(t, s.PointerResolution.Lng, 0.0)

	h.PointerLeave()
	assert.Nil(t, a.Store().State().PointerCoordinates)
}

func TestDestroy_DisposesMap(t *testing.T) {
	a, h := newTestAdapter(t)
	a.Destroy()
	assert.True(t, h.Disposed())
}
