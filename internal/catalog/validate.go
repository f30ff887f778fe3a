package catalog

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the catalog for broken references and shape problems.
// prefix qualifies every message path (for example "catalog"). Problems make
// the catalog unusable; warnings are worth logging but do not block use.
func Validate(c Config, prefix string) (problems, warnings []string) {
	p := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	w := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	sources := make(map[string]Source, len(c.Sources))
	used := make(map[string]bool)
	for i, s := range c.Sources {
		path := fmt.Sprintf("%s.sources[%d]", prefix, i)
		if s.ID == "" {
			p("%s.id: required", path)
			continue
		}
		if _, dup := sources[s.ID]; dup {
			p("%s.id: duplicate id %q", path, s.ID)
			continue
		}
		sources[s.ID] = s

		if !s.Type.Known() {
			p("%s.type: unknown source type %q", path, s.Type)
			continue
		}
		switch s.Type {
		case KindRasterXYZ, KindVector:
			if len(s.TileTemplates()) == 0 {
				p("%s: url or tiles required for %s source", path, s.Type)
			}
		case KindRasterWMS:
			if s.URL == "" {
				p("%s.url: required for %s source", path, s.Type)
			} else if !hasParam(s, "LAYERS") {
				p("%s.params: LAYERS required for %s source", path, s.Type)
			}
		case KindRasterWMTS:
			if s.URL == "" {
				p("%s.url: required for %s source", path, s.Type)
			}
			if s.Layer == "" && !hasParam(s, "LAYER") {
				w("%s.layer: empty, server default layer will be requested", path)
			}
		case KindGeoJSON:
			if s.URL == "" && s.Data == nil {
				p("%s: url or data required for %s source", path, s.Type)
			}
		}
		if s.URL != "" {
			if _, err := url.Parse(s.URL); err != nil {
				p("%s.url: %v", path, err)
			}
		}
		if s.MaxZoom > 0 && s.MinZoom > s.MaxZoom {
			p("%s: min_zoom %.1f above max_zoom %.1f", path, s.MinZoom, s.MaxZoom)
		}
	}

	layers := make(map[string]bool, len(c.Layers))
	for i, l := range c.Layers {
		path := fmt.Sprintf("%s.layers[%d]", prefix, i)
		if l.ID == "" {
			p("%s.id: required", path)
		} else if layers[l.ID] {
			p("%s.id: duplicate id %q", path, l.ID)
		} else {
			layers[l.ID] = true
		}
		if len(l.Layerset) == 0 {
			p("%s.layerset: at least one style layer required", path)
		}
		for j, sl := range l.Layerset {
			slPath := fmt.Sprintf("%s.layerset[%d]", path, j)
			src, ok := sources[sl.Source]
			if !ok {
				p("%s.source: unknown source %q", slPath, sl.Source)
				continue
			}
			used[sl.Source] = true
			if !styleTypes[sl.Type] {
				p("%s.type: unknown layer type %q", slPath, sl.Type)
				continue
			}
			if src.Type.Raster() != (sl.Type == StyleRaster) {
				w("%s.type: %q layer on %s source %q", slPath, sl.Type, src.Type, src.ID)
			}
			if src.Type == KindVector && sl.SourceLayer == "" {
				p("%s.source_layer: required for vector source %q", slPath, src.ID)
			}
			for name, v := range sl.Paint {
				if _, isStops, err := ParseStops(v); isStops && err != nil {
					p("%s.paint.%s: %v", slPath, name, err)
				}
			}
		}
	}

	for i, s := range c.Sources {
		if s.ID != "" && !used[s.ID] {
			w("%s.sources[%d]: source %q is not used by any layer", prefix, i, s.ID)
		}
	}

	seen := make(map[string]bool)
	var walk func(nodes []TreeNode, path string)
	walk = func(nodes []TreeNode, path string) {
		for i, n := range nodes {
			nPath := fmt.Sprintf("%s[%d]", path, i)
			if n.ID != "" {
				if seen[n.ID] {
					p("%s.id: duplicate tree id %q", nPath, n.ID)
				}
				seen[n.ID] = true
			}
			if n.Layer != "" && !layers[n.Layer] {
				p("%s.layer: unknown layer %q", nPath, n.Layer)
			}
			if n.Layer == "" && len(n.Children) == 0 {
				w("%s: tree node %q has neither layer nor children", nPath, n.ID)
			}
			walk(n.Children, nPath+".children")
		}
	}
	walk(c.Tree, prefix+".tree")

	return problems, warnings
}

func hasParam(s Source, key string) bool {
	for k := range s.Params {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	if s.URL == "" {
		return false
	}
	_, ok := lookupQuery(s.URL, key)
	return ok
}
