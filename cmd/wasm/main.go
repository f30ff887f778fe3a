//go:build js && wasm
// +build js,wasm

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall/js"

	"github.com/MeKo-Tech/mapbridge/internal/config"
	"github.com/MeKo-Tech/mapbridge/internal/geo"
	mbgeojson "github.com/MeKo-Tech/mapbridge/internal/geojson"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// MeasureRequest is a measurement request from JS.
type MeasureRequest struct {
	Coordinates []types.LngLat `json:"coordinates"`
	Closed      bool           `json:"closed"`
}

func errorValue(format string, args ...any) any {
	return map[string]any{"error": fmt.Sprintf(format, args...)}
}

func strings2any(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// measure returns the geodesic length and area of a path or ring.
func measure(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errorValue("missing arguments")
	}

	var req MeasureRequest
	if err := json.Unmarshal([]byte(args[0].String()), &req); err != nil {
		return errorValue("failed to parse request: %v", err)
	}

	line := orb.LineString(req.Coordinates)
	area := 0.0
	if req.Closed && len(line) > 0 {
		area = geo.GeodesicArea(orb.Ring(req.Coordinates))
		line = append(line, line[0])
	}
	return map[string]any{
		"lengthM": geo.PathLength(line),
		"areaM2":  area,
	}
}

// metersPerPixel returns the ground resolution at a latitude and canonical
// zoom.
func metersPerPixel(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return errorValue("missing arguments")
	}
	return geo.MetersPerPixel(args[0].Float(), args[1].Float(), 512)
}

// validate checks a map document given as text. The second argument is the
// format, "yaml" (default) or "json".
func validate(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errorValue("missing arguments")
	}
	format := "yaml"
	if len(args) > 1 && args[1].Type() == js.TypeString {
		format = strings.ToLower(args[1].String())
	}

	doc, warnings, err := config.Parse(strings.NewReader(args[0].String()), format, logger)
	result := map[string]any{
		"ok":       err == nil,
		"warnings": strings2any(warnings),
		"problems": []any{},
	}
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		result["problems"] = strings2any(verr.Problems)
	case err != nil:
		result["problems"] = []any{err.Error()}
	default:
		result["layers"] = len(doc.Catalog.Layers)
		result["sources"] = len(doc.Catalog.Sources)
	}
	return result
}

// overpassToGeoJSON converts an Overpass result encoded as JSON into a
// GeoJSON FeatureCollection string.
func overpassToGeoJSON(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errorValue("missing arguments")
	}

	res, err := mbgeojson.UnmarshalOverpassJSON([]byte(args[0].String()))
	if err != nil {
		return errorValue("%v", err)
	}
	fc := mbgeojson.FromOverpass(res)
	data, err := fc.MarshalJSON()
	if err != nil {
		return errorValue("failed to encode geojson: %v", err)
	}
	return map[string]any{
		"geojson": string(data),
		"summary": mbgeojson.Summary(fc),
	}
}

func initModule(this js.Value, args []js.Value) any {
	fmt.Println("mapbridge WASM module initialized")
	return map[string]any{"status": "ready"}
}

func main() {
	c := make(chan struct{})

	js.Global().Set("mapbridgeMeasure", js.FuncOf(measure))
	js.Global().Set("mapbridgeMetersPerPixel", js.FuncOf(metersPerPixel))
	js.Global().Set("mapbridgeValidate", js.FuncOf(validate))
	js.Global().Set("mapbridgeOverpassToGeoJSON", js.FuncOf(overpassToGeoJSON))
	js.Global().Set("mapbridgeInit", js.FuncOf(initModule))

	fmt.Println("mapbridge WASM module loaded")
	<-c
}
