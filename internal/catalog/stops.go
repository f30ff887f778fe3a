package catalog

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Stop is one zoom/value pair of a zoom function.
type Stop struct {
	Zoom  float64
	Value float64
}

// Stops is a zoom-dependent numeric paint value, written in documents as
// {"base": 1.5, "stops": [[10, 2], [16, 8]]}.
type Stops struct {
	Base  float64
	Stops []Stop
}

// ParseStops decodes v when it is a zoom function. isStops is false for plain
// values; err is set when v looks like a zoom function but is malformed.
func ParseStops(v any) (s Stops, isStops bool, err error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Stops{}, false, nil
	}
	raw, ok := m["stops"]
	if !ok {
		return Stops{}, false, nil
	}

	s.Base = 1
	if b, ok := m["base"]; ok {
		f, ok := toFloat(b)
		if !ok || f <= 0 {
			return Stops{}, true, fmt.Errorf("base must be a positive number, got %v", b)
		}
		s.Base = f
	}

	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return Stops{}, true, errors.New("stops must be a non-empty list of [zoom, value] pairs")
	}
	for i, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return Stops{}, true, fmt.Errorf("stops[%d]: want [zoom, value]", i)
		}
		z, okZ := toFloat(pair[0])
		val, okV := toFloat(pair[1])
		if !okZ || !okV {
			return Stops{}, true, fmt.Errorf("stops[%d]: zoom and value must be numbers", i)
		}
		s.Stops = append(s.Stops, Stop{Zoom: z, Value: val})
	}
	sort.SliceStable(s.Stops, func(i, j int) bool { return s.Stops[i].Zoom < s.Stops[j].Zoom })
	return s, true, nil
}

// Evaluate returns the value at zoom. Outside the stop range the nearest
// stop's value is used.
func (s Stops) Evaluate(zoom float64) float64 {
	n := len(s.Stops)
	if n == 0 {
		return 0
	}
	if zoom <= s.Stops[0].Zoom {
		return s.Stops[0].Value
	}
	if zoom >= s.Stops[n-1].Zoom {
		return s.Stops[n-1].Value
	}
	i := sort.Search(n, func(i int) bool { return s.Stops[i].Zoom > zoom })
	lo, hi := s.Stops[i-1], s.Stops[i]
	span := hi.Zoom - lo.Zoom
	if span == 0 {
		return hi.Value
	}

	var t float64
	if s.Base == 1 || s.Base == 0 {
		t = (zoom - lo.Zoom) / span
	} else {
		t = (math.Pow(s.Base, zoom-lo.Zoom) - 1) / (math.Pow(s.Base, span) - 1)
	}
	return lo.Value + t*(hi.Value-lo.Value)
}

// Expression returns the equivalent interpolate expression for engines
// that evaluate zoom functions natively.
func (s Stops) Expression() []any {
	interp := []any{"linear"}
	if s.Base != 1 && s.Base != 0 {
		interp = []any{"exponential", s.Base}
	}
	expr := []any{"interpolate", interp, []any{"zoom"}}
	for _, st := range s.Stops {
		expr = append(expr, st.Zoom, st.Value)
	}
	return expr
}

// ResolvePaint returns a copy of paint with every zoom function evaluated
// at zoom. Malformed functions are dropped.
func ResolvePaint(paint map[string]any, zoom float64) map[string]any {
	if paint == nil {
		return nil
	}
	out := make(map[string]any, len(paint))
	for k, v := range paint {
		s, isStops, err := ParseStops(v)
		switch {
		case !isStops:
			out[k] = v
		case err == nil:
			out[k] = s.Evaluate(zoom)
		}
	}
	return out
}

// ZoomDependent reports whether any paint value is a zoom function.
func ZoomDependent(paint map[string]any) bool {
	for _, v := range paint {
		if _, isStops, _ := ParseStops(v); isStops {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}
