package layers

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTarget struct {
	sources  map[string]catalog.Source
	layers   map[string]NativeLayer
	restyled map[string]float64
	zooms    map[string]float64
	failOn   string
	adds     int
}

func newMemTarget() *memTarget {
	return &memTarget{
		sources:  make(map[string]catalog.Source),
		layers:   make(map[string]NativeLayer),
		restyled: make(map[string]float64),
		zooms:    make(map[string]float64),
	}
}

func (m *memTarget) AddNativeSource(id string, src catalog.Source) error {
	m.sources[id] = src
	return nil
}

func (m *memTarget) RemoveNativeSource(id string) error {
	delete(m.sources, id)
	return nil
}

func (m *memTarget) HasNativeSource(id string) bool { _, ok := m.sources[id]; return ok }

func (m *memTarget) AddNativeLayer(l NativeLayer, zoom float64) error {
	if l.ID == m.failOn {
		return errors.New("boom")
	}
	m.adds++
	m.layers[l.ID] = l
	m.zooms[l.ID] = zoom
	return nil
}

func (m *memTarget) RemoveNativeLayer(id string) error {
	delete(m.layers, id)
	return nil
}

func (m *memTarget) HasNativeLayer(id string) bool { _, ok := m.layers[id]; return ok }

func (m *memTarget) Restyle(l NativeLayer, zoom float64) error {
	m.restyled[l.ID] = zoom
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var (
	srcPOI   = catalog.Source{ID: "pois", Type: catalog.KindGeoJSON, URL: "https://example.org/pois.geojson"}
	srcOSM   = catalog.Source{ID: "osm", Type: catalog.KindRasterXYZ, URL: "https://tile.example.org/{z}/{x}/{y}.png"}
	layerPOI = catalog.Layer{ID: "poi", Layerset: []catalog.StyleLayer{
		{ID: "dots", Source: "pois", Type: catalog.StyleCircle, Paint: map[string]any{
			"circle-radius": map[string]any{"stops": []any{[]any{0, 2}, []any{20, 12}}},
		}},
		{ID: "labels", Source: "pois", Type: catalog.StyleSymbol},
	}}
	layerHeat = catalog.Layer{ID: "heat", Layerset: []catalog.StyleLayer{{Source: "pois", Type: catalog.StyleCircle}}}
	layerBase = catalog.Layer{ID: "base", Layerset: []catalog.StyleLayer{{Source: "osm", Type: catalog.StyleRaster}}}
)

func newSynth(t *testing.T) (*Synthesizer, *memTarget, *state.Store) {
	t.Helper()
	target := newMemTarget()
	store := state.New(state.AppState{ZoomLevel: state.Ptr(10.0)}, quietLogger())
	s := New(target, store, quietLogger())
	require.NoError(t, s.AddSource(srcPOI))
	require.NoError(t, s.AddSource(srcOSM))
	return s, target, store
}

func TestAddLayer_CreatesSourceOnceAndMapsIDs(t *testing.T) {
	s, target, store := newSynth(t)

	require.NoError(t, s.AddLayer(layerPOI))
	assert.Len(t, target.sources, 1)
	assert.Contains(t, target.sources, "src-pois")
	assert.Equal(t, []string{"poi-dots", "poi-labels"}, s.NativeLayers("poi"))
	assert.Equal(t, 2, s.SourceRefs("src-pois"))
	assert.Equal(t, 10.0, target.zooms["poi-dots"])
	assert.Equal(t, []string{"poi"}, store.State().VisibleLayers)
}

func TestAddLayer_Idempotent(t *testing.T) {
	s, target, _ := newSynth(t)

	require.NoError(t, s.AddLayer(layerPOI))
	require.NoError(t, s.AddLayer(layerPOI))
	assert.Len(t, target.layers, 2)
	assert.Equal(t, 2, target.adds)
	assert.Equal(t, 2, s.SourceRefs("src-pois"))
	assert.Equal(t, []string{"poi"}, s.Visible())
}

func TestAddLayer_AdoptsExistingNativeObjects(t *testing.T) {
	s, target, _ := newSynth(t)
	target.sources["src-osm"] = srcOSM
	target.layers["base-0"] = NativeLayer{ID: "base-0"}

	require.NoError(t, s.AddLayer(layerBase))
	assert.Equal(t, 0, target.adds)
	assert.Equal(t, 1, s.SourceRefs("src-osm"))
}

func TestRemoveLayer_SharedSourceSurvives(t *testing.T) {
	s, target, _ := newSynth(t)
	require.NoError(t, s.AddLayer(layerPOI))
	require.NoError(t, s.AddLayer(layerHeat))

	require.NoError(t, s.RemoveLayer("poi"))
	assert.Contains(t, target.sources, "src-pois")
	assert.Equal(t, 1, s.SourceRefs("src-pois"))
	assert.NotContains(t, target.layers, "poi-dots")

	require.NoError(t, s.RemoveLayer("heat"))
	assert.NotContains(t, target.sources, "src-pois", "last reference removes the source")
	assert.Empty(t, target.layers)
}

func TestRemoveLayer_UnknownAndAlreadyGone(t *testing.T) {
	s, target, store := newSynth(t)
	assert.NoError(t, s.RemoveLayer("ghost"))

	require.NoError(t, s.AddLayer(layerBase))
	delete(target.layers, "base-0")
	assert.NoError(t, s.RemoveLayer("base"))
	assert.Empty(t, target.sources)
	assert.Equal(t, []string{}, store.State().VisibleLayers)
}

func TestAddLayer_UnregisteredSourceIsNoop(t *testing.T) {
	s, target, _ := newSynth(t)
	l := catalog.Layer{ID: "x", Layerset: []catalog.StyleLayer{
		{Source: "osm", Type: catalog.StyleRaster},
		{Source: "missing", Type: catalog.StyleRaster},
	}}

	err := s.AddLayer(l)
	require.ErrorIs(t, err, ErrSourceNotRegistered)
	assert.Empty(t, target.sources)
	assert.Empty(t, target.layers)
	assert.False(t, s.HasLayer("x"))
}

func TestAddLayer_RollsBackOnNativeFailure(t *testing.T) {
	s, target, _ := newSynth(t)
	target.failOn = "poi-labels"

	require.Error(t, s.AddLayer(layerPOI))
	assert.Empty(t, target.layers)
	assert.Empty(t, target.sources)
	assert.Equal(t, 0, s.SourceRefs("src-pois"))
}

func TestRestyle_OnlyZoomDependentLayers(t *testing.T) {
	s, target, _ := newSynth(t)
	require.NoError(t, s.AddLayer(layerPOI))
	require.NoError(t, s.AddLayer(layerBase))

	s.Restyle(14)
	assert.Equal(t, map[string]float64{"poi-dots": 14}, target.restyled)
}

func TestSources(t *testing.T) {
	s, _, _ := newSynth(t)
	require.NoError(t, s.AddLayer(layerBase))

	require.ErrorIs(t, s.RemoveSource("osm"), ErrSourceInUse)
	require.NoError(t, s.AddSource(srcOSM), "re-registering an identical source is fine")

	changed := srcOSM
	changed.URL = "https://other.example.org/{z}/{x}/{y}.png"
	require.ErrorIs(t, s.AddSource(changed), ErrSourceInUse)

	require.NoError(t, s.RemoveLayer("base"))
	require.NoError(t, s.RemoveSource("osm"))
	_, ok := s.Source("osm")
	assert.False(t, ok)
	assert.NoError(t, s.RemoveSource("osm"))

	assert.Error(t, s.AddSource(catalog.Source{ID: "bad", Type: "nope"}))
}

func TestClear(t *testing.T) {
	s, target, _ := newSynth(t)
	require.NoError(t, s.AddLayer(layerPOI))
	require.NoError(t, s.AddLayer(layerBase))
	s.Clear()
	assert.Empty(t, s.Visible())
	assert.Empty(t, target.sources)
}

func TestAddLayer_RejectsNativeIDCollision(t *testing.T) {
	s, target, store := newSynth(t)
	layerA := catalog.Layer{ID: "a", Layerset: []catalog.StyleLayer{{ID: "b-c", Source: "osm", Type: catalog.StyleRaster}}}
	layerAB := catalog.Layer{ID: "a-b", Layerset: []catalog.StyleLayer{{ID: "c", Source: "osm", Type: catalog.StyleRaster}}}

	require.NoError(t, s.AddLayer(layerA))
	err := s.AddLayer(layerAB)
	require.ErrorIs(t, err, ErrNativeIDTaken)
	assert.False(t, s.HasLayer("a-b"))
	assert.Equal(t, 1, s.SourceRefs("src-osm"))
	assert.Equal(t, []string{"a"}, store.State().VisibleLayers)

	require.NoError(t, s.RemoveLayer("a"))
	assert.Empty(t, target.layers)
	assert.Empty(t, target.sources)

	require.NoError(t, s.AddLayer(layerAB), "id is free once its owner is gone")
	assert.Equal(t, []string{"a-b-c"}, s.NativeLayers("a-b"))
}
