package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDefault_Names(t *testing.T) {
	r := Default(quietLogger())
	assert.Equal(t, []string{"cesium", "leaflet", "maplibre", "openlayers"}, r.Names())
	assert.True(t, r.Has("MapLibre"))
	assert.False(t, r.Has("mapbox"))
}

func TestBuild_CaseInsensitive(t *testing.T) {
	r := Default(quietLogger())

	for _, name := range []string{"maplibre", "MAPLIBRE", " MapLibre "} {
		t.Run(name, func(t *testing.T) {
			p := r.Build(context.Background(), name, engine.Deps{Logger: quietLogger(), Throttle: -1})
			a, err := p.Wait(context.Background())
			require.NoError(t, err)
			require.NotNil(t, a)
			t.Cleanup(a.Destroy)
			assert.Equal(t, "maplibre", a.Name())
			assert.Equal(t, "maplibre", p.Name())
		})
	}
}

func TestBuild_UnknownEngine(t *testing.T) {
	r := Default(quietLogger())

	p := r.Build(context.Background(), "mapbox", engine.Deps{})
	select {
	case <-p.Ready():
	default:
		t.Fatal("unknown engine should resolve immediately")
	}
	assert.Nil(t, p.Adapter())
	assert.ErrorIs(t, p.Err(), ErrUnknownEngine)
	assert.ErrorContains(t, p.Err(), "mapbox")
}

func TestBuild_FactoryError(t *testing.T) {
	r := New(quietLogger())
	boom := errors.New("webgl unavailable")
	r.Register("broken", func(context.Context, engine.Deps) (engine.Adapter, error) { return nil, boom })

	_, err := r.Build(context.Background(), "Broken", engine.Deps{}).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPending_LifecycleAndWaitTimeout(t *testing.T) {
	r := New(quietLogger())
	release := make(chan struct{})
	r.Register("slow", func(ctx context.Context, deps engine.Deps) (engine.Adapter, error) {
		<-release
		return nil, nil
	})

	p := r.Build(context.Background(), "slow", engine.Deps{})
	assert.Nil(t, p.Adapter())
	assert.NoError(t, p.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	_, err = p.Wait(context.Background())
	assert.NoError(t, err)
}

func TestRegister_Replaces(t *testing.T) {
	r := New(quietLogger())
	first := errors.New("first")
	second := errors.New("second")
	r.Register("x", func(context.Context, engine.Deps) (engine.Adapter, error) { return nil, first })
	r.Register("X", func(context.Context, engine.Deps) (engine.Adapter, error) { return nil, second })

	assert.Equal(t, []string{"x"}, r.Names())
	_, err := r.Build(context.Background(), "x", engine.Deps{}).Wait(context.Background())
	assert.ErrorIs(t, err, second)
}
