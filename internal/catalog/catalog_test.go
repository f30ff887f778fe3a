package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Sources: []Source{
			{ID: "osm", Type: KindRasterXYZ, URL: "https://{s}.tile.example.org/{z}/{x}/{y}.png", Subdomains: []string{"a", "b"}},
			{ID: "wms", Type: KindRasterWMS, URL: "https://wms.example.org/service", Params: map[string]string{"LAYERS": "roads"}},
			{ID: "pois", Type: KindGeoJSON, URL: "https://data.example.org/pois.geojson"},
		},
		Layers: []Layer{
			{ID: "base", Visible: true, Layerset: []StyleLayer{{Source: "osm", Type: StyleRaster}}},
			{ID: "roads", Layerset: []StyleLayer{{Source: "wms", Type: StyleRaster}}},
			{ID: "poi", Visible: true, Layerset: []StyleLayer{
				{ID: "dots", Source: "pois", Type: StyleCircle},
				{ID: "labels", Source: "pois", Type: StyleSymbol},
			}},
		},
		Tree: []TreeNode{
			{ID: "bg", Title: "Background", Layer: "base"},
			{ID: "overlays", Children: []TreeNode{{ID: "r", Layer: "roads"}, {ID: "p", Layer: "poi"}}},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	problems, warnings := Validate(testConfig(), "catalog")
	assert.Empty(t, problems)
	assert.Empty(t, warnings)
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown source", func(c *Config) { c.Layers[2].Layerset[0].Source = "nope" },
			`catalog.layers[2].layerset[0].source: unknown source "nope"`},
		{"duplicate source", func(c *Config) { c.Sources = append(c.Sources, Source{ID: "osm", Type: KindRasterXYZ, URL: "x"}) },
			`catalog.sources[3].id: duplicate id "osm"`},
		{"duplicate layer", func(c *Config) { c.Layers = append(c.Layers, c.Layers[0]) },
			`catalog.layers[3].id: duplicate id "base"`},
		{"unknown source type", func(c *Config) { c.Sources[0].Type = "bogus" },
			`catalog.sources[0].type: unknown source type "bogus"`},
		{"wms without layers", func(c *Config) { c.Sources[1].Params = nil },
			`catalog.sources[1].params: LAYERS required`},
		{"empty layerset", func(c *Config) { c.Layers[0].Layerset = nil },
			`catalog.layers[0].layerset: at least one style layer required`},
		{"tree reference", func(c *Config) { c.Tree[1].Children[0].Layer = "ghost" },
			`catalog.tree[1].children[0].layer: unknown layer "ghost"`},
		{"bad stops", func(c *Config) {
			c.Layers[2].Layerset[0].Paint = map[string]any{"circle-radius": map[string]any{"stops": "nope"}}
		}, `catalog.layers[2].layerset[0].paint.circle-radius: stops must be`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConfig()
			tt.mutate(&c)
			problems, _ := Validate(c, "catalog")
			require.NotEmpty(t, problems)
			assert.True(t, containsPrefix(problems, tt.want), "problems: %v", problems)
		})
	}
}

func TestValidate_LayersParamInURLCounts(t *testing.T) {
	c := testConfig()
	c.Sources[1].Params = nil
	c.Sources[1].URL = "https://wms.example.org/service?layers=roads"
	problems, _ := Validate(c, "catalog")
	assert.Empty(t, problems)
}

func TestValidate_Warnings(t *testing.T) {
	c := testConfig()
	c.Sources = append(c.Sources, Source{ID: "spare", Type: KindRasterXYZ, URL: "https://x/{z}/{x}/{y}"})
	c.Layers[0].Layerset[0].Type = StyleFill
	c.Tree = append(c.Tree, TreeNode{ID: "empty"})

	problems, warnings := Validate(c, "catalog")
	assert.Empty(t, problems)
	assert.Len(t, warnings, 3)
}

func TestConfigLookups(t *testing.T) {
	c := testConfig()
	s, ok := c.Source("wms")
	require.True(t, ok)
	assert.Equal(t, KindRasterWMS, s.Type)
	_, ok = c.Layer("missing")
	assert.False(t, ok)

	var ids []string
	for _, l := range c.VisibleLayers() {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"base", "poi"}, ids)
	assert.Equal(t, []string{"pois"}, c.Layers[2].Sources())
}

func containsPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
