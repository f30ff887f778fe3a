package leaflet

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, zoom float64) (engine.Adapter, *Headless) {
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
		engine.Options{Center: types.LngLat{4.9, 52.4}, Zoom: zoom}))
	require.NotNil(t, h)
	t.Cleanup(a.Destroy)
	return a, h
}

func TestInitialize_NativeZoomIsOneAboveCanonical(t *testing.T) {
	a, h := newTestAdapter(t, 10)

	assert.Equal(t, 11.0, h.GetZoom())
	assert.Equal(t, 10.0, a.Core().Zoom())
	assert.Equal(t, LatLng{Lat: 52.4, Lng: 4.9}, h.GetCenter())

	s := a.Store().State()
	require.NotNil(t, s.MapCenter)
	assert.Equal(t, 4.9, s.MapCenter.Lon())
	assert.Equal(t, 52.4, s.MapCenter.Lat())
}

func TestZoomSnapsToWholeNativeLevels(t *testing.T) {
	tests := []struct {
		name      string
		requested float64
		want      float64
	}{
		{"rounds down", 10.3, 10},
		{"rounds up", 10.6, 11},
		{"whole level", 7, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, h := newTestAdapter(t, 5)
			require.NoError(t, a.Core().SetZoom(tt.requested))
			assert.Equal(t, tt.want+1, h.GetZoom())
			assert.Equal(t, tt.want, a.Core().Zoom())
			z, ok := a.Store().State().Zoom()
			require.True(t, ok)
			assert.Equal(t, tt.want, z)
		})
	}
}

func TestInitialize_FractionalZoomSnaps(t *testing.T) {
	a, _ := newTestAdapter(t, 9.4)
	z, ok := a.Store().State().Zoom()
	require.True(t, ok)
	assert.Equal(t, 9.0, z)
}

func TestRotationAndPitchNotSupported(t *testing.T) {
	a, _ := newTestAdapter(t, 10)
	assert.Equal(t, engine.Capabilities{}, a.Core().Capabilities())
	assert.ErrorIs(t, a.Core().SetBearing(45), engine.ErrNotSupported)
	assert.ErrorIs(t, a.Core().SetPitch(10), engine.ErrNotSupported)
	assert.NoError(t, a.Core().ResetNorth())
}

func TestVectorSourceNotSupported(t *testing.T) {
	a, h := newTestAdapter(t, 10)

	require.NoError(t, a.Layers().AddSource(catalog.Source{ID: "v", Type: catalog.KindVector, URL: "https://t.example/tiles.json"}))
	err := a.Layers().AddLayer(catalog.Layer{ID: "roads", Layerset: []catalog.StyleLayer{{Source: "v", Type: catalog.StyleLine}}})
	assert.ErrorIs(t, err, engine.ErrNotSupported)
	assert.Empty(t, h.Layers())
	assert.False(t, a.Layers().HasLayer("roads"))
}

func TestWMSLayer_EngineOwnsTileGeometry(t *testing.T) {
	a, h := newTestAdapter(t, 10)

	require.NoError(t, a.Layers().AddSource(catalog.Source{
		ID:     "wms",
		Type:   catalog.KindRasterWMS,
		URL:    "https://wms.example/service",
		Params: map[string]string{"LAYERS": "roads", "width": "999"},
	}))
	require.NoError(t, a.Layers().AddLayer(catalog.Layer{ID: "roads", Layerset: []catalog.StyleLayer{{Source: "wms"}}}))

	ls := h.Layers()
	require.Len(t, ls, 1)
	assert.Equal(t, KindWMS, ls[0].Kind)
	assert.Equal(t, "roads", ls[0].WMSParams["LAYERS"])
	assert.Equal(t, "EPSG:3857", ls[0].WMSParams["CRS"])
	assert.NotContains(t, ls[0].WMSParams, "BBOX")

	reqs := h.Requests()
	require.NotEmpty(t, reqs)
	for _, r := range reqs {
		assert.Contains(t, r, "BBOX=")
		assert.Contains(t, r, "SERVICE=WMS")
		assert.Equal(t, 1, strings.Count(strings.ToUpper(r), "&WIDTH="), r)
	}
}

func TestSharedSourceLoadingSettlesOnce(t *testing.T) {
	a, h := newTestAdapter(t, 10)

	require.NoError(t, a.Layers().AddSource(catalog.Source{ID: "osm", Type: catalog.KindRasterXYZ, URL: "https://{s}.t.example/{z}/{x}/{y}.png", Subdomains: []string{"a", "b"}}))
	require.NoError(t, a.Layers().AddLayer(catalog.Layer{ID: "one", Layerset: []catalog.StyleLayer{{Source: "osm"}}}))
	require.NoError(t, a.Layers().AddLayer(catalog.Layer{ID: "two", Layerset: []catalog.StyleLayer{{Source: "osm"}}}))

	assert.True(t, a.Store().State().MapBusy)
	assert.Equal(t, []string{"one", "two"}, a.Layers().Visible())

	for _, r := range h.Requests() {
		assert.True(t, strings.HasPrefix(r, "https://a.t.example/11/") || strings.HasPrefix(r, "https://b.t.example/11/"), r)
	}

	h.Idle()
	assert.False(t, a.Store().State().MapBusy)
}

func TestPointerResolution(t *testing.T) {
	a, h := newTestAdapter(t, 10)

	h.MouseMove(Point{X: 400, Y: 300})
	s := a.Store().State()
	require.NotNil(t, s.PointerCoordinates)
	assert.InDelta(t, 4.9, s.PointerCoordinates.Lon(), 1e-6)
	require.NotNil(t, s.PointerResolution)
	// 256 px tiles at native zoom 11: 360 / 2^19 degrees per pixel
	assert.InDelta(t, 360.0/(1<<19), s.PointerResolution.Lng, 1e-9)
	assert.Greater(t, s.PointerResolution.Lat, 0.0)
}
