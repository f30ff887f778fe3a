// Package zoomctl is the numeric zoom input. It writes an optimistic zoom
// to the store, asks the engine to move, and shows whatever the engine
// settles on, skipping its own UI echoes through a state.Origin.
package zoomctl

import (
	"log/slog"
	"math"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/state"
	"github.com/MeKo-Tech/mapbridge/internal/tools"
)

// ID is the tool id used with the manager.
const ID = "zoom-control"

// Control is a non-modal zoom input bound to one adapter.
type Control struct {
	adapter engine.Adapter
	origin  state.Origin
	logger  *slog.Logger

	mu       sync.Mutex
	value    float64
	unsub    func()
	onChange func(zoom float64)
}

var _ tools.Tool = (*Control)(nil)

// New creates the control. onChange receives every zoom the input should
// display; it may be nil.
func New(adapter engine.Adapter, onChange func(zoom float64), logger *slog.Logger) *Control {
	if logger == nil {
		logger = slog.Default()
	}
	return &Control{
		adapter:  adapter,
		origin:   state.Origin{Actor: ID},
		logger:   logger.With("component", "zoomctl"),
		onChange: onChange,
	}
}

func (c *Control) ID() string  { return ID }
func (c *Control) Modal() bool { return false }

// Activate starts following the store.
func (c *Control) Activate() {
	if z, ok := c.adapter.Store().State().Zoom(); ok {
		c.mu.Lock()
		c.value = z
		c.mu.Unlock()
	}
	unsub := c.adapter.Store().Subscribe(c.onState)
	c.mu.Lock()
	c.unsub = unsub
	c.mu.Unlock()
}

// Deactivate stops following the store.
func (c *Control) Deactivate() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (c *Control) onState(s state.AppState, cause state.Cause) {
	if c.origin.Echo(cause) {
		return
	}
	z, ok := s.Zoom()
	if !ok {
		return
	}
	c.mu.Lock()
	if z == c.value {
		c.mu.Unlock()
		return
	}
	c.value = z
	cb := c.onChange
	c.mu.Unlock()
	if cb != nil {
		cb(z)
	}
}

// Value returns the displayed zoom.
func (c *Control) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// SetValue is called when the user enters a zoom.
func (c *Control) SetValue(zoom float64) error {
	if math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return nil
	}
	c.mu.Lock()
	c.value = zoom
	c.mu.Unlock()
	c.origin.Dispatch(c.adapter.Store(), state.Patch{}.SetZoomLevel(&zoom))
	if err := c.adapter.Core().SetZoom(zoom); err != nil {
		c.logger.Warn("set zoom failed", "op", "set_value", "zoom", zoom, "error", err)
		return err
	}
	return nil
}

// Step changes the zoom by delta, typically +1 or -1.
func (c *Control) Step(delta float64) error {
	return c.SetValue(c.adapter.Core().Zoom() + delta)
}
