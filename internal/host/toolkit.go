package host

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/tools"
	"github.com/MeKo-Tech/mapbridge/internal/tools/geolocate"
	"github.com/MeKo-Tech/mapbridge/internal/tools/measure"
	"github.com/MeKo-Tech/mapbridge/internal/tools/scale"
	"github.com/MeKo-Tech/mapbridge/internal/tools/zoomctl"
)

// toolKit is the set of tools bound to one adapter.
type toolKit struct {
	mgr       *tools.Manager
	measure   *measure.Tool
	zoom      *zoomctl.Control
	scale     *scale.Control
	geolocate *geolocate.Tool
}

func newToolKit(m *Map, a engine.Adapter) (*toolKit, error) {
	mgr := tools.NewManager(m.store, m.logger)
	k := &toolKit{
		mgr:       mgr,
		measure:   measure.New(a, mgr, m.doc.Tools.Measure, m.opts.OnMeasure, m.logger),
		zoom:      zoomctl.New(a, m.opts.OnZoom, m.logger),
		scale:     scale.NewControl(a, m.opts.ScaleWidth, DefaultScaleMargin, m.opts.ScaleUnits, m.opts.OnScale, m.logger),
		geolocate: geolocate.New(a, mgr, m.geo, m.id, m.doc.Tools.Geolocate, m.logger),
	}

	var errs []error
	for _, t := range []tools.Tool{k.measure, k.zoom, k.scale, k.geolocate} {
		if err := mgr.Register(t); err != nil {
			errs = append(errs, err)
		}
	}
	// the non-modal controls are always on
	for _, id := range []string{zoomctl.ID, scale.ID} {
		if err := mgr.Activate(id); err != nil {
			errs = append(errs, fmt.Errorf("activate %s: %w", id, err))
		}
	}
	return k, errors.Join(errs...)
}

// close deactivates and unregisters every tool.
func (k *toolKit) close() {
	for _, id := range k.mgr.IDs() {
		k.mgr.Unregister(id)
	}
}

// Tools returns the tool manager of the current adapter, or nil.
func (m *Map) Tools() *tools.Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kit == nil {
		return nil
	}
	return m.kit.mgr
}

// Measure returns the measurement tool of the current adapter, or nil.
func (m *Map) Measure() *measure.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kit == nil {
		return nil
	}
	return m.kit.measure
}

// Zoom returns the zoom input of the current adapter, or nil.
func (m *Map) Zoom() *zoomctl.Control {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kit == nil {
		return nil
	}
	return m.kit.zoom
}

// Scale returns the scale bar of the current adapter, or nil.
func (m *Map) Scale() *scale.Control {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kit == nil {
		return nil
	}
	return m.kit.scale
}

// Geolocate returns the geolocation tool of the current adapter, or nil.
func (m *Map) Geolocate() *geolocate.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kit == nil {
		return nil
	}
	return m.kit.geolocate
}
