package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/mapbridge/internal/config"
	"github.com/MeKo-Tech/mapbridge/internal/host"
	"github.com/MeKo-Tech/mapbridge/internal/registry"
	"github.com/MeKo-Tech/mapbridge/internal/search"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const docYAML = `
map:
  center: [9.73, 52.37]
  zoom: 11
catalog:
  sources:
    - id: osm
      type: raster-xyz
      url: https://tile.example/{z}/{x}/{y}.png
  layers:
    - id: base
      visible: true
      layerset:
        - source: osm
          type: raster
`

type stubSearch struct{}

func (stubSearch) Search(_ context.Context, q search.Query) (*geojson.FeatureCollection, error) {
	f := geojson.NewFeature(orb.Point{9.74, 52.37})
	f.Properties["name"] = q.Text
	return geojson.NewFeatureCollection().Append(f), nil
}

func newServer(t *testing.T, attach bool) (*Server, *host.Map) {
	t.Helper()
	doc, _, err := config.Parse(strings.NewReader(docYAML), "yaml", quietLogger())
	require.NoError(t, err)
	m, err := host.New(host.Options{
		Document: doc,
		Registry: registry.Default(quietLogger()),
		Search:   stubSearch{},
		Throttle: -1,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Detach)
	if attach {
		require.NoError(t, m.Attach(context.Background()))
	}
	return New(m, Config{Heartbeat: time.Hour}, quietLogger()), m
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStateHandler(t *testing.T) {
	t.Run("attached", func(t *testing.T) {
		s, _ := newServer(t, true)
		rec := do(t, s.Handler(), http.MethodGet, "/state", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

		var snap Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.True(t, snap.Ready)
		assert.Equal(t, "maplibre", snap.Engine)
		assert.True(t, snap.State.MapLoaded)
		assert.Equal(t, []string{"base"}, snap.State.VisibleLayers)
		require.NotNil(t, snap.Viewport)
		assert.InDelta(t, 11, snap.Viewport.Zoom, 1e-9)
	})

	t.Run("not attached", func(t *testing.T) {
		s, _ := newServer(t, false)
		rec := do(t, s.Handler(), http.MethodGet, "/state", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var snap Snapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
		assert.False(t, snap.Ready)
		assert.Nil(t, snap.Viewport)
		assert.False(t, snap.State.MapLoaded)
	})
}

func TestViewportHandler(t *testing.T) {
	tests := []struct {
		name   string
		attach bool
		body   string
		status int
	}{
		{name: "moves camera", attach: true, body: `{"center":[4.9,52.37],"zoom":12}`, status: http.StatusOK},
		{name: "bearing on maplibre", attach: true, body: `{"center":[4.9,52.37],"zoom":12,"bearing":30}`, status: http.StatusOK},
		{name: "bad body", attach: true, body: `{`, status: http.StatusBadRequest},
		{name: "latitude clamped", attach: true, body: `{"center":[4.9,120],"zoom":12}`, status: http.StatusOK},
		{name: "no adapter", attach: false, body: `{"center":[4.9,52.37],"zoom":12}`, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, m := newServer(t, tt.attach)
			rec := do(t, s.Handler(), http.MethodPost, "/viewport", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status == http.StatusOK {
				zoom, ok := m.Store().State().Zoom()
				require.True(t, ok)
				assert.InDelta(t, 12, zoom, 1e-9)
				assert.EqualValues(t, 1, s.Snapshot().Status.Commands)
			} else {
				assert.EqualValues(t, 1, s.Snapshot().Status.FailedCommands)
			}
		})
	}
}

func TestToolToggleHandler(t *testing.T) {
	s, m := newServer(t, true)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/tools/measure/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "measure", m.Store().State().ActiveToolID())

	rec = do(t, h, http.MethodPost, "/tools/measure/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, m.Store().State().ActiveTool)

	rec = do(t, h, http.MethodPost, "/tools/lasso/toggle", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	detached, _ := newServer(t, false)
	rec = do(t, detached.Handler(), http.MethodPost, "/tools/measure/toggle", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEngineHandler(t *testing.T) {
	s, m := newServer(t, true)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/engine", `{"engine":"leaflet"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "leaflet", m.Engine())
	assert.Equal(t, []string{"base"}, m.Store().State().VisibleLayers)

	rec = do(t, h, http.MethodPost, "/engine", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchHandler(t *testing.T) {
	s, _ := newServer(t, true)
	rec := do(t, s.Handler(), http.MethodGet, "/search?q=dam", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "dam", fc.Features[0].Properties.MustString("name"))
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newServer(t, false)
	rec := do(t, s.Handler(), http.MethodOptions, "/viewport", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestStateStream(t *testing.T) {
	s, m := newServer(t, true)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/state/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	next := func() Snapshot {
		t.Helper()
		for lines.Scan() {
			data, ok := strings.CutPrefix(lines.Text(), "data: ")
			if !ok {
				continue
			}
			var snap Snapshot
			require.NoError(t, json.Unmarshal([]byte(data), &snap))
			return snap
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return Snapshot{}
	}

	first := next()
	assert.True(t, first.Ready)
	zoom, _ := first.State.Zoom()
	assert.InDelta(t, 11, zoom, 1e-9)
	assert.Equal(t, 1, first.Status.Streams)

	require.NoError(t, m.Adapter().Core().SetZoom(14))
	for {
		snap := next()
		if zoom, _ := snap.State.Zoom(); zoom == 14 {
			break
		}
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newServer(t, false)
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
