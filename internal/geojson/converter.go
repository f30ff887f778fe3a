// Package geojson loads GeoJSON sources and converts OSM query results into
// GeoJSON feature collections.
package geojson

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FromOverpass converts an Overpass result to a FeatureCollection. Nodes
// with tags become points, ways become lines or polygons and multipolygon
// relations are assembled from their member ways. Ways that are members of
// a multipolygon are not emitted on their own. Output order is by element
// type, then id.
func FromOverpass(result *overpass.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if result == nil {
		return fc
	}

	memberWays := make(map[int64]bool)
	for _, rel := range result.Relations {
		if rel.Tags["type"] != "multipolygon" {
			continue
		}
		for _, m := range rel.Members {
			if m.Type == "way" && m.Way != nil {
				memberWays[m.Way.ID] = true
			}
		}
	}

	for _, id := range sortedIDs(result.Nodes) {
		n := result.Nodes[id]
		if n == nil || len(n.Tags) == 0 {
			continue
		}
		fc.Append(newFeature(fmt.Sprintf("node/%d", n.ID), orb.Point{n.Lon, n.Lat}, n.Tags))
	}

	for _, id := range sortedIDs(result.Ways) {
		w := result.Ways[id]
		if w == nil || memberWays[w.ID] {
			continue
		}
		if g := wayGeometry(w); g != nil {
			fc.Append(newFeature(fmt.Sprintf("way/%d", w.ID), g, w.Tags))
		}
	}

	for _, id := range sortedIDs(result.Relations) {
		rel := result.Relations[id]
		if rel == nil || rel.Tags["type"] != "multipolygon" {
			continue
		}
		if g := multipolygonGeometry(rel); g != nil {
			fc.Append(newFeature(fmt.Sprintf("relation/%d", rel.ID), g, rel.Tags))
		}
	}
	return fc
}

// UnmarshalOverpassJSON decodes a raw Overpass API JSON response.
func UnmarshalOverpassJSON(data []byte) (*overpass.Result, error) {
	var result overpass.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal overpass json: %w", err)
	}
	return &result, nil
}

func newFeature(id string, g orb.Geometry, tags map[string]string) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.ID = id
	for k, v := range tags {
		f.Properties[k] = v
	}
	f.Properties["osm_id"] = id
	return f
}

func wayGeometry(w *overpass.Way) orb.Geometry {
	if len(w.Geometry) == 0 {
		return nil
	}
	line := make(orb.LineString, len(w.Geometry))
	for i, p := range w.Geometry {
		line[i] = orb.Point{p.Lon, p.Lat}
	}
	if len(line) > 3 && line[0] == line[len(line)-1] && area(w.Tags) {
		return orb.Polygon{orb.Ring(line)}
	}
	return line
}

// area reports whether a closed way is a polygon rather than a loop.
func area(tags map[string]string) bool {
	switch {
	case tags["area"] == "no":
		return false
	case tags["highway"] != "" || tags["barrier"] != "" || tags["waterway"] != "":
		return tags["area"] == "yes"
	}
	return true
}

func multipolygonGeometry(rel *overpass.Relation) orb.Geometry {
	var outer, inner []orb.Ring
	for _, m := range rel.Members {
		if m.Type != "way" || m.Way == nil || len(m.Way.Geometry) == 0 {
			continue
		}
		ring := make(orb.Ring, len(m.Way.Geometry))
		for i, p := range m.Way.Geometry {
			ring[i] = orb.Point{p.Lon, p.Lat}
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		if m.Role == "inner" {
			inner = append(inner, ring)
		} else {
			outer = append(outer, ring)
		}
	}

	switch len(outer) {
	case 0:
		return nil
	case 1:
		return orb.Polygon(append([]orb.Ring{outer[0]}, inner...))
	}
	mp := make(orb.MultiPolygon, len(outer))
	for i, o := range outer {
		mp[i] = orb.Polygon{o}
	}
	// assign each hole to the first outer ring whose bound contains it
	for _, h := range inner {
		for i := range mp {
			if mp[i][0].Bound().Contains(h[0]) {
				mp[i] = append(mp[i], h)
				break
			}
		}
	}
	return mp
}

func sortedIDs[T any](m map[int64]T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Summary returns "N features (points P, lines L, polygons A)".
func Summary(fc *geojson.FeatureCollection) string {
	if fc == nil {
		return "no features"
	}
	var points, lines, polygons int
	for _, f := range fc.Features {
		switch f.Geometry.(type) {
		case orb.Point, orb.MultiPoint:
			points++
		case orb.LineString, orb.MultiLineString:
			lines++
		case orb.Polygon, orb.MultiPolygon:
			polygons++
		}
	}
	return fmt.Sprintf("%d features (points %d, lines %d, polygons %d)", len(fc.Features), points, lines, polygons)
}
