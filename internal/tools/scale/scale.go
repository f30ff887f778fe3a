// Package scale computes scale bars from the live camera.
package scale

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/event"
	"github.com/MeKo-Tech/mapbridge/internal/geo"
	"github.com/MeKo-Tech/mapbridge/internal/tools"
	"github.com/MeKo-Tech/mapbridge/internal/types"
)

// ID is the tool id used with the manager.
const ID = "scale"

// Units selects the label system.
type Units string

const (
	Metric   Units = "metric"
	Imperial Units = "imperial"
)

const (
	metersPerFoot = 0.3048
	feetPerMile   = 5280
)

// Bar is a computed scale bar. A zero WidthPx means no scale is available
// for the current view.
type Bar struct {
	WidthPx float64 `json:"widthPx"`
	Meters  float64 `json:"meters"`
	Label   string  `json:"label"`
}

// Available reports whether the bar can be drawn.
func (b Bar) Available() bool { return b.WidthPx > 0 }

// Compute returns the longest bar with a round length that fits in maxWidth
// pixels, measured along screen row y.
func Compute(core engine.Core, maxWidth, y float64, units Units) Bar {
	if maxWidth <= 0 {
		return Bar{}
	}
	lat, ok := core.LatitudeAtPixelRow(y)
	if !ok {
		return Bar{}
	}
	center := core.ViewportState().Center
	a := types.LngLat{center.Lon(), lat}
	pa, ok := core.Project(a)
	if !ok {
		return Bar{}
	}
	b, ok := core.Unproject(types.Pixel{X: pa.X + maxWidth, Y: pa.Y})
	if !ok {
		return Bar{}
	}
	maxMeters := geo.HaversineDistance(a, b)
	return fit(maxMeters, maxWidth, units)
}

func fit(maxMeters, maxWidth float64, units Units) Bar {
	if maxMeters <= 0 || math.IsNaN(maxMeters) || math.IsInf(maxMeters, 0) {
		return Bar{}
	}
	if units == Imperial {
		feet := maxMeters / metersPerFoot
		if feet >= feetPerMile {
			miles := niceNumber(feet / feetPerMile)
			m := miles * feetPerMile * metersPerFoot
			return Bar{WidthPx: maxWidth * m / maxMeters, Meters: m, Label: fmt.Sprintf("%g mi", miles)}
		}
		ft := niceNumber(feet)
		m := ft * metersPerFoot
		return Bar{WidthPx: maxWidth * m / maxMeters, Meters: m, Label: fmt.Sprintf("%g ft", ft)}
	}
	m := niceNumber(maxMeters)
	label := fmt.Sprintf("%g m", m)
	if m >= 1000 {
		label = fmt.Sprintf("%g km", m/1000)
	}
	return Bar{WidthPx: maxWidth * m / maxMeters, Meters: m, Label: label}
}

// niceNumber rounds v down to 1, 2 or 5 times a power of ten.
func niceNumber(v float64) float64 {
	pow := math.Pow(10, math.Floor(math.Log10(v)))
	d := v / pow
	switch {
	case d >= 5:
		d = 5
	case d >= 2:
		d = 2
	default:
		d = 1
	}
	return d * pow
}

// Control keeps a Bar up to date with the camera.
type Control struct {
	adapter  engine.Adapter
	maxWidth float64
	margin   float64
	units    Units
	logger   *slog.Logger

	mu       sync.Mutex
	bar      Bar
	subs     event.Group
	onChange func(Bar)
}

var _ tools.Tool = (*Control)(nil)

// NewControl creates a scale control drawn margin pixels above the bottom
// edge of the container.
func NewControl(adapter engine.Adapter, maxWidth, margin float64, units Units, onChange func(Bar), logger *slog.Logger) *Control {
	if logger == nil {
		logger = slog.Default()
	}
	if units == "" {
		units = Metric
	}
	return &Control{
		adapter:  adapter,
		maxWidth: maxWidth,
		margin:   margin,
		units:    units,
		logger:   logger.With("component", "scale"),
		onChange: onChange,
	}
}

func (c *Control) ID() string  { return ID }
func (c *Control) Modal() bool { return false }

// Activate computes the bar and recomputes it after every camera movement.
func (c *Control) Activate() {
	c.subs.Add(c.adapter.Bus().On(event.TypeViewChangeEnd, func(event.Event) { c.Update() }))
	c.Update()
}

// Deactivate stops tracking the camera.
func (c *Control) Deactivate() {
	c.subs.Close()
}

// Update recomputes the bar now.
func (c *Control) Update() {
	core := c.adapter.Core()
	row := float64(core.Container().Height) - c.margin
	bar := Compute(core, c.maxWidth, row, c.units)
	if !bar.Available() {
		c.logger.Debug("scale unavailable", "op", "update", "row", row)
	}
	c.mu.Lock()
	changed := bar != c.bar
	c.bar = bar
	cb := c.onChange
	c.mu.Unlock()
	if changed && cb != nil {
		cb(bar)
	}
}

// Bar returns the current bar.
func (c *Control) Bar() Bar {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bar
}
