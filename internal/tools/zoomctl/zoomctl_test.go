package zoomctl

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/engine/leaflet"
	"github.com/MeKo-Tech/mapbridge/internal/state"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Control, engine.Adapter, *[]float64) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := leaflet.NewFactory(nil)(context.Background(), engine.Deps{Logger: logger, Throttle: -1})
	require.NoError(t, err)
	require.NoError(t, a.Core().Initialize(context.Background(), engine.Container{Width: 800, Height: 600},
		engine.Options{Center: types.LngLat{4.9, 52.4}, Zoom: 10}))
	t.Cleanup(a.Destroy)

	shown := &[]float64{}
	c := New(a, func(z float64) { *shown = append(*shown, z) }, logger)
	c.Activate()
	t.Cleanup(c.Deactivate)
	return c, a, shown
}

func TestSetValue_ShowsSettledZoomNotOwnEcho(t *testing.T) {
	c, a, shown := setup(t)
	assert.Equal(t, 10.0, c.Value())

	// leaflet snaps to whole zoom levels, so 12.4 settles at 12
	require.NoError(t, c.SetValue(12.4))

	assert.Equal(t, []float64{12}, *shown)
	assert.Equal(t, 12.0, c.Value())
	z, ok := a.Store().State().Zoom()
	require.True(t, ok)
	assert.Equal(t, 12.0, z)
}

func TestOtherWritersAreShown(t *testing.T) {
	c, a, shown := setup(t)

	a.Store().Dispatch(state.Patch{}.SetZoomLevel(state.Ptr(7.0)), state.SourceUI)

	assert.Equal(t, []float64{7}, *shown)
	assert.Equal(t, 7.0, c.Value())
}

func TestStep(t *testing.T) {
	c, a, _ := setup(t)

	require.NoError(t, c.Step(1))
	assert.Equal(t, 11.0, a.Core().Zoom())
	require.NoError(t, c.Step(-2))
	assert.Equal(t, 9.0, a.Core().Zoom())
}

func TestDeactivate_StopsFollowing(t *testing.T) {
	c, a, shown := setup(t)
	before := a.Store().SubscriberCount()

	c.Deactivate()
	assert.Equal(t, before-1, a.Store().SubscriberCount())

	a.Store().Dispatch(state.Patch{}.SetZoomLevel(state.Ptr(5.0)), state.SourceMap)
	assert.Empty(t, *shown)
}
