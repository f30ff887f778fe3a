package catalog

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/mapbridge/internal/tile"
	"github.com/MeKo-Tech/mapbridge/internal/types"
)

// Param is one query parameter. Raw values are written unescaped so engine
// placeholders such as {bbox-epsg-3857} survive.
type Param struct {
	Key   string
	Value string
	Raw   bool
}

func (p Param) encode() string {
	if p.Raw {
		return p.Key + "=" + p.Value
	}
	return url.QueryEscape(p.Key) + "=" + url.QueryEscape(p.Value)
}

// WMSRequest carries the engine-specific parts of a GetMap request.
type WMSRequest struct {
	// TileSize becomes WIDTH and HEIGHT. Zero uses 256.
	TileSize int
	// CRS defaults to EPSG:3857.
	CRS string
	// BBox is written raw; empty leaves BBOX to the engine.
	BBox string
	// Managed lists keys the engine sets itself and which must not be injected.
	Managed []string
}

// WMSParams returns the parameters an engine has to add to src.URL for a
// GetMap request. Caller-supplied keys win: a default is only injected when
// neither the URL query nor src.Params already has the key, compared
// case-insensitively.
func WMSParams(src Source, req WMSRequest) []Param {
	present := queryKeys(src.URL)
	for _, k := range req.Managed {
		present[strings.ToUpper(k)] = true
	}

	var out []Param
	add := func(p Param) {
		key := strings.ToUpper(p.Key)
		if present[key] {
			return
		}
		present[key] = true
		out = append(out, p)
	}

	version := "1.3.0"
	if v, ok := lookupQuery(src.URL, "VERSION"); ok {
		version = v
	} else if v, ok := lookupParam(src.Params, "VERSION"); ok {
		version = v
	}

	add(Param{Key: "SERVICE", Value: "WMS"})
	add(Param{Key: "REQUEST", Value: "GetMap"})
	for _, k := range sortedKeys(src.Params) {
		add(Param{Key: k, Value: src.Params[k]})
	}
	add(Param{Key: "VERSION", Value: version})
	add(Param{Key: "FORMAT", Value: "image/png"})
	add(Param{Key: "TRANSPARENT", Value: "true"})
	add(Param{Key: "STYLES", Value: ""})

	crs := req.CRS
	if crs == "" {
		crs = "EPSG:3857"
	}
	if !present["CRS"] && !present["SRS"] {
		if wmsVersionAtLeast130(version) {
			add(Param{Key: "CRS", Value: crs})
		} else {
			add(Param{Key: "SRS", Value: crs})
		}
	}

	size := req.TileSize
	if size <= 0 {
		size = 256
	}
	add(Param{Key: "WIDTH", Value: strconv.Itoa(size)})
	add(Param{Key: "HEIGHT", Value: strconv.Itoa(size)})
	if req.BBox != "" {
		add(Param{Key: "BBOX", Value: req.BBox, Raw: true})
	}
	return out
}

// BuildWMSURL returns src.URL with the GetMap parameters of WMSParams
// appended. The existing query string is kept byte for byte.
func BuildWMSURL(src Source, req WMSRequest) string {
	return appendParams(src.URL, WMSParams(src, req))
}

// BuildWMTSURL returns a tile template with {z}, {x} and {y} placeholders.
// RESTful templates ({TileMatrix}, {TileRow}, {TileCol}) are rewritten in
// place, anything else is treated as a KVP endpoint.
func BuildWMTSURL(src Source) string {
	style := src.Style
	if style == "" {
		style = "default"
	}
	set := src.TileMatrixSet
	if set == "" {
		set = "GoogleMapsCompatible"
	}
	format := src.Format
	if format == "" {
		format = "image/png"
	}

	if strings.Contains(src.URL, "{TileMatrix}") {
		r := strings.NewReplacer(
			"{TileMatrixSet}", set,
			"{TileMatrix}", "{z}",
			"{TileRow}", "{y}",
			"{TileCol}", "{x}",
			"{Style}", style,
			"{Layer}", src.Layer,
		)
		return r.Replace(src.URL)
	}

	present := queryKeys(src.URL)
	var params []Param
	add := func(p Param) {
		key := strings.ToUpper(p.Key)
		if !present[key] {
			present[key] = true
			params = append(params, p)
		}
	}
	add(Param{Key: "SERVICE", Value: "WMTS"})
	add(Param{Key: "REQUEST", Value: "GetTile"})
	add(Param{Key: "VERSION", Value: "1.0.0"})
	if src.Layer != "" {
		add(Param{Key: "LAYER", Value: src.Layer})
	}
	for _, k := range sortedKeys(src.Params) {
		add(Param{Key: k, Value: src.Params[k]})
	}
	add(Param{Key: "STYLE", Value: style})
	add(Param{Key: "TILEMATRIXSET", Value: set})
	add(Param{Key: "FORMAT", Value: format})
	add(Param{Key: "TILEMATRIX", Value: "{z}", Raw: true})
	add(Param{Key: "TILEROW", Value: "{y}", Raw: true})
	add(Param{Key: "TILECOL", Value: "{x}", Raw: true})
	return appendParams(src.URL, params)
}

// ExpandTileURL fills a tile template for c. Supported placeholders are
// {z}, {x}, {y}, {-y} (TMS row), {quadkey} and {s} (subdomain).
func ExpandTileURL(template string, c tile.Coords, subdomains []string) string {
	s := ""
	if len(subdomains) > 0 {
		s = subdomains[int(c.X+c.Y)%len(subdomains)]
	}
	r := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(c.Z), 10),
		"{x}", strconv.FormatUint(uint64(c.X), 10),
		"{y}", strconv.FormatUint(uint64(c.Y), 10),
		"{-y}", strconv.FormatUint(uint64(c.TMSY()), 10),
		"{quadkey}", c.Quadkey(),
		"{s}", s,
	)
	return r.Replace(template)
}

func appendParams(base string, params []Param) string {
	if len(params) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	switch {
	case !strings.Contains(base, "?"):
		b.WriteByte('?')
	case strings.HasSuffix(base, "?"), strings.HasSuffix(base, "&"):
	default:
		b.WriteByte('&')
	}
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.encode())
	}
	return b.String()
}

// queryKeys returns the upper-cased keys present in the raw query of u.
func queryKeys(u string) map[string]bool {
	keys := make(map[string]bool)
	for _, kv := range rawQueryPairs(u) {
		keys[strings.ToUpper(kv[0])] = true
	}
	return keys
}

func lookupQuery(u, key string) (string, bool) {
	for _, kv := range rawQueryPairs(u) {
		if strings.EqualFold(kv[0], key) {
			return kv[1], true
		}
	}
	return "", false
}

func lookupParam(params map[string]string, key string) (string, bool) {
	for k, v := range params {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func rawQueryPairs(u string) [][2]string {
	i := strings.IndexByte(u, '?')
	if i < 0 {
		return nil
	}
	q := u[i+1:]
	if j := strings.IndexByte(q, '#'); j >= 0 {
		q = q[:j]
	}
	var pairs [][2]string
	for _, part := range strings.Split(q, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		if dk, err := url.QueryUnescape(k); err == nil {
			k = dk
		}
		if dv, err := url.QueryUnescape(v); err == nil {
			v = dv
		}
		pairs = append(pairs, [2]string{k, v})
	}
	return pairs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func wmsVersionAtLeast130(v string) bool {
	parts := strings.SplitN(v, ".", 3)
	major, _ := strconv.Atoi(parts[0])
	minor := 0
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major > 1 || (major == 1 && minor >= 3)
}

// ExpandTiles expands template for every tile of bbox at zoom, up to limit
// URLs (limit <= 0 means no limit).
func ExpandTiles(template string, subdomains []string, bbox types.BoundingBox, zoom uint32, limit int) []string {
	var urls []string
	for _, c := range tile.TilesInBBox(bbox, zoom) {
		if limit > 0 && len(urls) >= limit {
			break
		}
		urls = append(urls, ExpandTileURL(template, c, subdomains))
	}
	return urls
}

// TileBBox formats the EPSG:3857 bounds of c as a WMS BBOX value.
func TileBBox(c tile.Coords) string {
	b := c.BoundsMercator()
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strings.Join(parts, ",")
}
