package catalog

import (
	"strings"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/tile"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestBuildWMSURL_InjectsDefaults(t *testing.T) {
	src := Source{URL: "https://wms.example.org/service", Params: map[string]string{"LAYERS": "roads"}}
	got := BuildWMSURL(src, WMSRequest{TileSize: 512, BBox: "{bbox-epsg-3857}"})

	assert.Equal(t, "https://wms.example.org/service?SERVICE=WMS&REQUEST=GetMap&LAYERS=roads&VERSION=1.3.0"+
		"&FORMAT=image%2Fpng&TRANSPARENT=true&STYLES=&CRS=EPSG%3A3857&WIDTH=512&HEIGHT=512&BBOX={bbox-epsg-3857}", got)
}

func TestBuildWMSURL_PreservesCallerQuery(t *testing.T) {
	src := Source{URL: "https://wms.example.org/service?map=/srv/a.map&format=image/jpeg&Transparent=FALSE&layers=a,b"}
	got := BuildWMSURL(src, WMSRequest{})

	assert.True(t, strings.HasPrefix(got, src.URL+"&"), got)
	rest := strings.TrimPrefix(got, src.URL+"&")
	assert.NotContains(t, strings.ToUpper(rest), "FORMAT=")
	assert.NotContains(t, strings.ToUpper(rest), "TRANSPARENT=")
	assert.NotContains(t, strings.ToUpper(rest), "LAYERS=")
	assert.Contains(t, rest, "SERVICE=WMS")
	assert.Contains(t, rest, "WIDTH=256")
	assert.NotContains(t, rest, "BBOX")
}

func TestWMSParams_VersionSelectsCRSKey(t *testing.T) {
	src := Source{URL: "https://wms.example.org/?VERSION=1.1.1", Params: map[string]string{"LAYERS": "x"}}
	params := WMSParams(src, WMSRequest{})
	keys := paramKeys(params)
	assert.Contains(t, keys, "SRS")
	assert.NotContains(t, keys, "CRS")
	assert.NotContains(t, keys, "VERSION")

	src = Source{URL: "https://wms.example.org/?srs=EPSG:4326", Params: map[string]string{"LAYERS": "x"}}
	keys = paramKeys(WMSParams(src, WMSRequest{}))
	assert.NotContains(t, keys, "CRS")
	assert.NotContains(t, keys, "SRS")
}

func TestWMSParams_ManagedKeysSkipped(t *testing.T) {
	src := Source{URL: "https://wms.example.org/", Params: map[string]string{"LAYERS": "x"}}
	keys := paramKeys(WMSParams(src, WMSRequest{Managed: []string{"width", "HEIGHT", "bbox"}}))
	assert.NotContains(t, keys, "WIDTH")
	assert.NotContains(t, keys, "HEIGHT")
	assert.Contains(t, keys, "LAYERS")
}

func TestBuildWMTSURL(t *testing.T) {
	rest := Source{URL: "https://wmts.example.org/{Layer}/{Style}/{TileMatrixSet}/{TileMatrix}/{TileRow}/{TileCol}.png", Layer: "ortho"}
	assert.Equal(t, "https://wmts.example.org/ortho/default/GoogleMapsCompatible/{z}/{y}/{x}.png", BuildWMTSURL(rest))

	kvp := Source{URL: "https://wmts.example.org/wmts?service=WMTS", Layer: "ortho", Format: "image/jpeg"}
	got := BuildWMTSURL(kvp)
	assert.True(t, strings.HasPrefix(got, "https://wmts.example.org/wmts?service=WMTS&REQUEST=GetTile"), got)
	assert.Contains(t, got, "LAYER=ortho")
	assert.Contains(t, got, "FORMAT=image%2Fjpeg")
	assert.Contains(t, got, "TILEMATRIX={z}&TILEROW={y}&TILECOL={x}")
}

func TestExpandTileURL(t *testing.T) {
	c := tile.NewCoords(3, 4, 2)
	assert.Equal(t, "https://a.example.org/3/4/2.png", ExpandTileURL("https://{s}.example.org/{z}/{x}/{y}.png", c, []string{"a", "b"}))
	assert.Equal(t, "/3/4/5", ExpandTileURL("/{z}/{x}/{-y}", c, nil))
	assert.Equal(t, "q=120", ExpandTileURL("q={quadkey}", c, nil))
}

func paramKeys(params []Param) []string {
	keys := make([]string, len(params))
	for i, p := range params {
		keys[i] = p.Key
	}
	return keys
}

func TestExpandTiles(t *testing.T) {
	bbox := types.BoundingBox{MinLon: -180, MinLat: -85, MaxLon: 180, MaxLat: 85}
	urls := ExpandTiles("/{z}/{x}/{y}", nil, bbox, 1, 0)
	assert.ElementsMatch(t, []string{"/1/0/0", "/1/1/0", "/1/0/1", "/1/1/1"}, urls)
	assert.Len(t, ExpandTiles("/{z}/{x}/{y}", nil, bbox, 3, 5), 5)
}

func TestTileBBox(t *testing.T) {
	got := TileBBox(tile.NewCoords(0, 0, 0))
	parts := strings.Split(got, ",")
	if !assert.Len(t, parts, 4) {
		return
	}
	assert.Equal(t, "-20037508.342789", parts[0])
	assert.Equal(t, "20037508.342789", parts[2])
}
