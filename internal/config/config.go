// Package config loads declarative map documents.
//
// A document has three sections:
//
//	map:      initial viewport, zoom limits, engine and style
//	catalog:  sources, logical layers and the layer tree
//	tools:    per-tool options
//
// Documents are YAML or JSON and are read through viper, so every key is
// case-insensitive. WMS/WMTS parameter names are upper-cased after decoding.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/engine"
	"github.com/MeKo-Tech/mapbridge/internal/tools/geolocate"
	"github.com/MeKo-Tech/mapbridge/internal/tools/measure"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/spf13/viper"
)

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("config: invalid")

// ValidationError lists every problem found, each prefixed with the path of
// the offending key.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid config: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid config: %d problems:\n  - %s", len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// Is makes errors.Is(err, ErrInvalid) true.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Document is a whole map document.
type Document struct {
	Map     MapSettings    `mapstructure:"map" json:"map" yaml:"map"`
	Catalog catalog.Config `mapstructure:"catalog" json:"catalog" yaml:"catalog"`
	Tools   ToolSettings   `mapstructure:"tools" json:"tools" yaml:"tools"`
	Search  SearchSettings `mapstructure:"search" json:"search" yaml:"search"`
}

// MapSettings is the initial camera and engine choice.
type MapSettings struct {
	Engine string `mapstructure:"engine" json:"engine,omitempty" yaml:"engine,omitempty"`
	// Center is [lng, lat].
	Center   []float64 `mapstructure:"center" json:"center" yaml:"center"`
	Zoom     float64   `mapstructure:"zoom" json:"zoom" yaml:"zoom"`
	MinZoom  *float64  `mapstructure:"min_zoom" json:"minZoom,omitempty" yaml:"min_zoom,omitempty"`
	MaxZoom  *float64  `mapstructure:"max_zoom" json:"maxZoom,omitempty" yaml:"max_zoom,omitempty"`
	Style    string    `mapstructure:"style" json:"style,omitempty" yaml:"style,omitempty"`
	StyleURL string    `mapstructure:"style_url" json:"styleUrl,omitempty" yaml:"style_url,omitempty"`
	Width    int       `mapstructure:"width" json:"width" yaml:"width"`
	Height   int       `mapstructure:"height" json:"height" yaml:"height"`
}

// ToolSettings holds options for the configurable tools.
type ToolSettings struct {
	Measure   measure.Options   `mapstructure:"measure" json:"measure" yaml:"measure"`
	Geolocate geolocate.Options `mapstructure:"geolocate" json:"geolocate" yaml:"geolocate"`
}

// SearchSettings configure the feature search.
type SearchSettings struct {
	Endpoint string `mapstructure:"endpoint" json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Limit    int    `mapstructure:"limit" json:"limit,omitempty" yaml:"limit,omitempty"`
}

// CenterLngLat returns Center as a coordinate.
func (m MapSettings) CenterLngLat() types.LngLat {
	if len(m.Center) != 2 {
		return types.LngLat{}
	}
	return types.LngLat{m.Center[0], m.Center[1]}
}

// Options converts the settings into engine initialize options.
func (m MapSettings) Options() engine.Options {
	return engine.Options{
		Center:   m.CenterLngLat(),
		Zoom:     m.Zoom,
		MinZoom:  m.MinZoom,
		MaxZoom:  m.MaxZoom,
		Style:    m.Style,
		StyleURL: m.StyleURL,
	}
}

// Container returns the configured render size.
func (m MapSettings) Container() engine.Container {
	return engine.Container{Width: m.Width, Height: m.Height}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("map.center", []float64{0, 0})
	v.SetDefault("map.zoom", 2.0)
	v.SetDefault("map.width", 1024)
	v.SetDefault("map.height", 768)
	v.SetDefault("tools.measure.close_threshold_px", measure.DefaultCloseThresholdPx)
	v.SetDefault("tools.measure.finish_threshold_px", measure.DefaultFinishThresholdPx)
}

// Load reads and validates the document at path. The format follows the
// file extension. Warnings are non-fatal findings.
func Load(path string, logger *slog.Logger) (*Document, []string, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return decode(v, logger)
}

// Parse reads and validates a document from r. format is "yaml" or "json".
func Parse(r io.Reader, format string, logger *slog.Logger) (*Document, []string, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s config: %w", format, err)
	}
	return decode(v, logger)
}

func decode(v *viper.Viper, logger *slog.Logger) (*Document, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "config")

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, nil, fmt.Errorf("failed to decode config: %w", err)
	}
	doc.normalize()

	warnings, err := doc.Validate()
	for _, w := range warnings {
		logger.Warn("config warning", "op", "validate", "warning", w)
	}
	if err != nil {
		logger.Error("config rejected", "op", "validate", "error", err)
		return nil, warnings, err
	}
	return &doc, warnings, nil
}

func (d *Document) normalize() {
	d.Map.Engine = strings.ToLower(strings.TrimSpace(d.Map.Engine))
	for i, s := range d.Catalog.Sources {
		if len(s.Params) == 0 {
			continue
		}
		params := make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			params[strings.ToUpper(k)] = v
		}
		d.Catalog.Sources[i].Params = params
	}
}

// Validate checks the whole document. It returns a *ValidationError when
// anything is unusable, and warnings in either case.
func (d *Document) Validate() ([]string, error) {
	var problems []string
	p := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	m := d.Map
	if len(m.Center) != 2 {
		p("map.center: want [lng, lat], got %d values", len(m.Center))
	} else {
		if lng := m.Center[0]; math.IsNaN(lng) || lng < -180 || lng > 180 {
			p("map.center[0]: longitude %v out of range", lng)
		}
		if lat := m.Center[1]; math.IsNaN(lat) || lat < -90 || lat > 90 {
			p("map.center[1]: latitude %v out of range", lat)
		}
	}
	if m.Zoom < 0 || m.Zoom > 24 {
		p("map.zoom: %v out of range [0, 24]", m.Zoom)
	}
	if m.MinZoom != nil && m.MaxZoom != nil && *m.MinZoom > *m.MaxZoom {
		p("map.min_zoom: %v above max_zoom %v", *m.MinZoom, *m.MaxZoom)
	}
	if m.Width <= 0 || m.Height <= 0 {
		p("map: width and height must be positive, got %dx%d", m.Width, m.Height)
	}

	mo := d.Tools.Measure
	if mo.CloseThresholdPx < 0 {
		p("tools.measure.close_threshold_px: must not be negative")
	}
	if mo.FinishThresholdPx < 0 {
		p("tools.measure.finish_threshold_px: must not be negative")
	}
	if d.Tools.Geolocate.Zoom < 0 {
		p("tools.geolocate.zoom: must not be negative")
	}
	if d.Search.Limit < 0 {
		p("search.limit: must not be negative")
	}

	catProblems, warnings := catalog.Validate(d.Catalog, "catalog")
	problems = append(problems, catProblems...)

	if len(problems) > 0 {
		return warnings, &ValidationError{Problems: problems}
	}
	return warnings, nil
}
