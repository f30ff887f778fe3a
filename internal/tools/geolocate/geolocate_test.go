package geolocate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/engine/openlayers"
	"github.com/MeKo-Tech/mapbridge/internal/tools"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTool(t *testing.T, reg *Registry, mapID string, opts Options) (*Tool, *tools.Manager, engine.Adapter) {
	t.Helper()
	a, err := openlayers.NewFactory(nil)(context.Background(), engine.Deps{Logger: quietLogger(), Throttle: -1})
	require.NoError(t, err)
	require.NoError(t, a.Core().Initialize(context.Background(), engine.Container{Width: 800, Height: 600},
		engine.Options{Center: types.LngLat{0, 0}, Zoom: 4}))
	t.Cleanup(a.Destroy)

	mgr := tools.NewManager(a.Store(), quietLogger())
	tool := New(a, mgr, reg, mapID, opts, quietLogger())
	require.NoError(t, mgr.Register(tool))
	return tool, mgr, a
}

func TestSharedWatchPerHostMap(t *testing.T) {
	feed := NewFeed()
	reg := NewRegistry(feed, quietLogger())

	_, m1, _ := newTool(t, reg, "map-1", Options{})
	_, m2, _ := newTool(t, reg, "map-1", Options{})
	_, m3, _ := newTool(t, reg, "map-2", Options{})

	require.NoError(t, m1.Activate(ID))
	require.NoError(t, m2.Activate(ID))
	assert.Equal(t, 1, feed.Started())
	assert.Equal(t, 2, reg.Refs("map-1"))

	require.NoError(t, m3.Activate(ID))
	assert.Equal(t, 2, feed.Running())

	m1.Deactivate()
	assert.Equal(t, 2, feed.Running())
	m2.Deactivate()
	assert.Equal(t, 1, feed.Running())
	assert.Zero(t, reg.Refs("map-1"))
	m3.Deactivate()
	assert.Zero(t, feed.Running())
}

func TestPositionIsShownAndFollowed(t *testing.T) {
	feed := NewFeed()
	reg := NewRegistry(feed, quietLogger())
	tool, mgr, a := newTool(t, reg, "map-1", Options{Follow: true, Zoom: 12})
	require.NoError(t, mgr.Activate(ID))

	feed.Push(Position{Coords: types.LngLat{4.9, 52.4}, AccuracyM: 15})

	last, ok := tool.Last()
	require.True(t, ok)
	assert.Equal(t, 15.0, last.AccuracyM)
	assert.True(t, a.Layers().HasLayer(positionID))
	assert.False(t, a.Store().State().MapBusy)

	vp := a.Core().ViewportState()
	assert.InDelta(t, 4.9, vp.Center.Lon(), 1e-6)
	assert.InDelta(t, 52.4, vp.Center.Lat(), 1e-6)
	assert.InDelta(t, 12, vp.Zoom, 1e-9)

	mgr.Deactivate()
	assert.False(t, a.Layers().HasLayer(positionID))
}

func TestLatecomerGetsLastPosition(t *testing.T) {
	feed := NewFeed()
	reg := NewRegistry(feed, quietLogger())
	_, m1, _ := newTool(t, reg, "map-1", Options{})
	late, m2, _ := newTool(t, reg, "map-1", Options{})

	require.NoError(t, m1.Activate(ID))
	feed.Push(Position{Coords: types.LngLat{1, 2}})
	require.NoError(t, m2.Activate(ID))

	last, ok := late.Last()
	require.True(t, ok)
	assert.Equal(t, types.LngLat{1, 2}, last.Coords)
}

type failingProvider struct{}

func (failingProvider) Watch(func(Position)) (func(), error) {
	return nil, errors.New("permission denied")
}

func TestProviderFailureLeavesToolInert(t *testing.T) {
	reg := NewRegistry(failingProvider{}, quietLogger())
	tool, mgr, _ := newTool(t, reg, "map-1", Options{})

	require.NoError(t, mgr.Activate(ID))
	mgr.Deactivate()

	_, ok := tool.Last()
	assert.False(t, ok)
	assert.Zero(t, reg.Len())
}
