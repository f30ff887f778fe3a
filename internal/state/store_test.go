package state

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	return New(AppState{}, logger), &buf
}

func TestStore_DispatchMergesShallowly(t *testing.T) {
	s, _ := newTestStore(t)

	s.Dispatch(Patch{}.SetMapLoaded(true).SetZoomLevel(Ptr(10.0)), SourceInit)
	s.Dispatch(Patch{}.SetMapCenter(&types.LngLat{4.9, 52.4}), SourceMap)

	got := s.State()
	assert.True(t, got.MapLoaded)
	zoom, ok := got.Zoom()
	require.True(t, ok)
	assert.Equal(t, 10.0, zoom)
	require.NotNil(t, got.MapCenter)
	assert.Equal(t, types.LngLat{4.9, 52.4}, *got.MapCenter)

	s.Dispatch(Patch{}.SetZoomLevel(nil), SourceMap)
	_, ok = s.State().Zoom()
	assert.False(t, ok, "nil setter should clear the field")
}

func TestStore_ListenersReceiveSourceAndSnapshot(t *testing.T) {
	s, _ := newTestStore(t)

	var causes []Cause
	var zooms []float64
	s.Subscribe(func(st AppState, c Cause) {
		causes = append(causes, c)
		z, _ := st.Zoom()
		zooms = append(zooms, z)
	})

	s.Dispatch(Patch{}.SetZoomLevel(Ptr(3.0)), SourceMap)
	s.DispatchAs(Patch{}.SetZoomLevel(Ptr(4.0)), SourceUI, "zoom-input")

	assert.Equal(t, []float64{3, 4}, zooms)
	assert.Equal(t, []Cause{{Source: SourceMap}, {Source: SourceUI, Actor: "zoom-input"}}, causes)
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	s, _ := newTestStore(t)
	s.Dispatch(Patch{}.SetVisibleLayers([]string{"osm"}).SetMapViewportBounds(orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}), SourceInit)

	s.Subscribe(func(st AppState, _ Cause) {
		st.VisibleLayers[0] = "mutated"
		st.MapViewportBounds[0][0] = orb.Point{99, 99}
	})
	var seen AppState
	s.Subscribe(func(st AppState, _ Cause) { seen = st })

	s.Dispatch(Patch{}.SetMapBusy(true), SourceMap)

	assert.Equal(t, []string{"osm"}, seen.VisibleLayers)
	assert.Equal(t, orb.Point{0, 0}, seen.MapViewportBounds[0][0])
	assert.Equal(t, []string{"osm"}, s.State().VisibleLayers)

	snap := s.State()
	snap.VisibleLayers[0] = "local"
	assert.Equal(t, "osm", s.State().VisibleLayers[0])
}

func TestStore_ReentrantDispatchPreservesOrder(t *testing.T) {
	s, _ := newTestStore(t)

	// The first listener reacts to d1 by dispatching d2. The second listener
	// must still see d1 before d2.
	s.Subscribe(func(st AppState, c Cause) {
		if z, ok := st.Zoom(); ok && z == 1 {
			s.Dispatch(Patch{}.SetZoomLevel(Ptr(2.0)), SourceMap)
			// State already reflects d2 even though its notification is queued.
			z2, _ := s.State().Zoom()
			assert.Equal(t, 2.0, z2)
		}
	})
	var order []float64
	s.Subscribe(func(st AppState, _ Cause) {
		z, _ := st.Zoom()
		order = append(order, z)
	})

	s.Dispatch(Patch{}.SetZoomLevel(Ptr(1.0)), SourceUI)

	assert.Equal(t, []float64{1, 2}, order)
}

func TestStore_PanickingListenerIsIsolated(t *testing.T) {
	s, logs := newTestStore(t)

	s.Subscribe(func(AppState, Cause) { panic("boom") })
	calls := 0
	s.Subscribe(func(AppState, Cause) { calls++ })

	s.Dispatch(Patch{}.SetMapBusy(true), SourceMap)
	s.Dispatch(Patch{}.SetMapBusy(false), SourceMap)

	assert.Equal(t, 2, calls)
	assert.False(t, s.State().MapBusy)
	assert.True(t, strings.Contains(logs.String(), "state listener failed"))
}

func TestStore_Unsubscribe(t *testing.T) {
	s, _ := newTestStore(t)

	calls := 0
	var unsubscribeSecond func()
	s.Subscribe(func(AppState, Cause) { unsubscribeSecond() })
	unsubscribeSecond = s.Subscribe(func(AppState, Cause) { calls++ })

	s.Dispatch(Patch{}.SetMapLoaded(true), SourceInit)
	assert.Equal(t, 0, calls, "listener removed during dispatch must not run")
	assert.Equal(t, 1, s.SubscriberCount())

	unsubscribeSecond() // idempotent
	assert.Equal(t, 1, s.SubscriberCount())
}

func TestOrigin_Echo(t *testing.T) {
	s, _ := newTestStore(t)
	origin := Origin{Actor: "zoom-input"}

	var reacted []float64
	s.Subscribe(func(st AppState, c Cause) {
		if origin.Echo(c) {
			return
		}
		z, _ := st.Zoom()
		reacted = append(reacted, z)
	})

	origin.Dispatch(s, Patch{}.SetZoomLevel(Ptr(7.0)))
	s.Dispatch(Patch{}.SetZoomLevel(Ptr(7.5)), SourceMap)
	s.DispatchAs(Patch{}.SetZoomLevel(Ptr(8.0)), SourceUI, "other-tool")

	assert.Equal(t, []float64{7.5, 8}, reacted)
	assert.False(t, Origin{}.Echo(Cause{Source: SourceUI}))
}

func TestPatch_Has(t *testing.T) {
	p := Patch{}.SetMapBusy(true).SetActiveTool(Ptr("measure"))
	assert.True(t, p.Has(Patch{}.SetMapBusy(false)))
	assert.False(t, p.Has(Patch{}.SetMapLoaded(true)))
	assert.True(t, Patch{}.Empty())
}
