// Package engine defines the contract every rendering engine adapter
// implements and the normalization core they share.
//
// Engines disagree on tile size, camera model, event names and projection.
// An adapter hides those differences: everything it publishes to the store
// and the bus is canonical (512 px zoom convention, [lng, lat] order,
// degrees), and only the engine's own call sites see native values.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/event"
	"github.com/MeKo-Tech/mapbridge/internal/state"
	"github.com/MeKo-Tech/mapbridge/internal/types"
)

var (
	// ErrNotSupported is returned by setters for capabilities an engine lacks.
	ErrNotSupported = errors.New("engine: not supported")
	// ErrNotInitialized is returned by camera operations before Initialize.
	ErrNotInitialized = errors.New("engine: not initialized")
	// ErrDestroyed is returned by operations after Destroy.
	ErrDestroyed = errors.New("engine: destroyed")
)

// DefaultThrottle is the rate limit applied to pointer-move and view-change.
const DefaultThrottle = 50 * time.Millisecond

// Capabilities reports which optional camera controls an engine supports.
type Capabilities struct {
	Bearing bool `json:"bearing"`
	Pitch   bool `json:"pitch"`
}

// Container is the size of the element the map renders into, in pixels.
type Container struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Options configure Initialize. Zoom values are canonical.
type Options struct {
	Center   types.LngLat
	Zoom     float64
	MinZoom  *float64
	MaxZoom  *float64
	Style    string
	StyleURL string
}

// Core is the camera and projection surface tools program against.
type Core interface {
	Initialize(ctx context.Context, c Container, opts Options) error
	Container() Container
	ViewportState() types.Viewport
	SetViewport(center types.LngLat, zoom float64) error
	SetZoom(zoom float64) error
	Zoom() float64
	// OnZoomEnd registers fn to run with the canonical zoom after a camera
	// movement that changed the zoom. It returns an unsubscribe function.
	OnZoomEnd(fn func(zoom float64)) func()
	Capabilities() Capabilities
	SetBearing(deg float64) error
	Bearing() float64
	SetPitch(deg float64) error
	Pitch() float64
	ResetNorth() error
	ResetNorthPitch() error
	Project(p types.LngLat) (types.Pixel, bool)
	Unproject(px types.Pixel) (types.LngLat, bool)
	FitBounds(b types.BoundingBox) error
	SuppressBusySignalForSource(id string)
	UnsuppressBusySignalForSource(id string)
	ToCanonicalZoom(native float64) float64
	ToNativeZoom(canonical float64) float64
	LatitudeAtPixelRow(y float64) (float64, bool)
}

// LayerService manages catalog sources and logical layers on an engine.
type LayerService interface {
	AddSource(src catalog.Source) error
	RemoveSource(id string) error
	Source(id string) (catalog.Source, bool)
	AddLayer(layer catalog.Layer) error
	RemoveLayer(id string) error
	HasLayer(id string) bool
	Visible() []string
}

// Adapter bundles one engine's capabilities with the store and bus it
// publishes to.
type Adapter interface {
	Name() string
	Core() Core
	Layers() LayerService
	Store() *state.Store
	Bus() *event.Bus
	Destroy()
}

// Deps are the shared collaborators handed to a Factory.
type Deps struct {
	Store  *state.Store
	Bus    *event.Bus
	Logger *slog.Logger
	// Clock drives throttling. Nil uses the wall clock.
	Clock event.Clock
	// Throttle is the pointer-move and view-change rate limit. Zero uses
	// DefaultThrottle, a negative value disables throttling.
	Throttle time.Duration
}

// WithDefaults fills unset dependencies.
func (d Deps) WithDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Store == nil {
		d.Store = state.New(state.AppState{}, d.Logger)
	}
	if d.Bus == nil {
		d.Bus = event.NewBus(d.Logger)
	}
	if d.Clock == nil {
		d.Clock = event.SystemClock
	}
	switch {
	case d.Throttle == 0:
		d.Throttle = DefaultThrottle
	case d.Throttle < 0:
		d.Throttle = 0
	}
	return d
}

// Factory builds an adapter. It may block while the engine loads and must
// honour ctx.
type Factory func(ctx context.Context, deps Deps) (Adapter, error)
