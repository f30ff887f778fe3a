package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/mapbridge/internal/catalog"
	"github.com/MeKo-Tech/mapbridge/internal/config"
	mbgeojson "github.com/MeKo-Tech/mapbridge/internal/geojson"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const testDocument = `
map:
  center: [9.73, 52.37]
  zoom: 11
catalog:
  sources:
    - id: osm
      type: raster-xyz
      url: https://tile.example/{z}/{x}/{y}.png
    - id: wms
      type: raster-wms
      url: https://wms.example/service
      params:
        layers: relief
  layers:
    - id: base
      visible: true
      layerset:
        - source: osm
          type: raster
    - id: relief
      visible: false
      layerset:
        - source: wms
          type: raster
`

func TestMain(m *testing.M) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	os.Exit(m.Run())
}

func writeDocument(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "map.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadDocument(t *testing.T) *config.Document {
	t.Helper()
	doc, _, err := config.Parse(strings.NewReader(testDocument), "yaml", logger)
	require.NoError(t, err)
	return doc
}

func TestParseStep(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    step
		wantErr bool
	}{
		{
			name:  "click",
			input: "click:100,200",
			want:  step{op: "click", arg: "100,200", px: types.Pixel{X: 100, Y: 200}, nums: []float64{}},
		},
		{
			name:  "click with spaces and case",
			input: " Click: 100, 200",
			want:  step{op: "click", arg: "100, 200", px: types.Pixel{X: 100, Y: 200}, nums: []float64{}},
		},
		{
			name:  "drag",
			input: "drag:10,20,30,40",
			want:  step{op: "drag", arg: "10,20,30,40", px: types.Pixel{X: 10, Y: 20}, to: types.Pixel{X: 30, Y: 40}},
		},
		{
			name:  "scroll keeps delta",
			input: "scroll:512,384,-1.5",
			want:  step{op: "scroll", arg: "512,384,-1.5", px: types.Pixel{X: 512, Y: 384}, nums: []float64{-1.5}},
		},
		{
			name:  "view",
			input: "view:4.9,52.37,12",
			want:  step{op: "view", arg: "4.9,52.37,12", nums: []float64{4.9, 52.37, 12}},
		},
		{
			name:  "position with accuracy",
			input: "position:9.7,52.4,15",
			want:  step{op: "position", arg: "9.7,52.4,15", nums: []float64{9.7, 52.4, 15}},
		},
		{
			name:  "tool",
			input: "tool:measure",
			want:  step{op: "tool", arg: "measure"},
		},
		{
			name:  "idle",
			input: "idle",
			want:  step{op: "idle"},
		},
		{name: "unknown op", input: "teleport:1,2", wantErr: true},
		{name: "too few values", input: "click:100", wantErr: true},
		{name: "too many values", input: "click:1,2,3", wantErr: true},
		{name: "invalid number", input: "zoom:abc", wantErr: true},
		{name: "missing argument", input: "engine", wantErr: true},
		{name: "argument on idle", input: "idle:now", wantErr: true},
		{name: "latitude out of range", input: "view:4.9,95,12", wantErr: true},
		{name: "empty string", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStep(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseStep(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("parseStep(%q) unexpected error: %v", tt.input, err)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInspectEngine(t *testing.T) {
	doc := loadDocument(t)
	ctx := context.Background()

	t.Run("maplibre visible layers", func(t *testing.T) {
		reg, nat := headlessRegistry(logger)
		spec, err := inspectEngine(ctx, reg, nat, "MapLibre", doc, false)
		require.NoError(t, err)
		assert.Equal(t, "maplibre", spec.Engine)
		require.Contains(t, spec.Sources, "src-osm")
		assert.Equal(t, 256, spec.Sources["src-osm"].TileSize)
		require.Len(t, spec.Layers, 1)
		assert.Equal(t, "src-osm", spec.Layers[0].Source)
		assert.NotContains(t, spec.Sources, "src-wms")
	})

	t.Run("leaflet with every layer", func(t *testing.T) {
		reg, nat := headlessRegistry(logger)
		spec, err := inspectEngine(ctx, reg, nat, "leaflet", doc, true)
		require.NoError(t, err)
		require.Len(t, spec.Layers, 2)
		var wms *nativeLayer
		for i := range spec.Layers {
			if spec.Layers[i].Source == "src-wms" {
				wms = &spec.Layers[i]
			}
		}
		require.NotNil(t, wms)
		assert.Equal(t, "relief", wms.Params["LAYERS"])
		assert.NotEmpty(t, spec.Requests)
	})

	t.Run("unknown engine", func(t *testing.T) {
		reg, nat := headlessRegistry(logger)
		_, err := inspectEngine(ctx, reg, nat, "mapbox", doc, false)
		assert.Error(t, err)
	})
}

func TestWriteOutput(t *testing.T) {
	specs := []nativeSpec{{Engine: "cesium", Layers: []nativeLayer{{ID: "base-0", Kind: "UrlTemplateImageryProvider"}}}}

	var js bytes.Buffer
	require.NoError(t, writeOutput(&js, "json", specs))
	var fromJSON []nativeSpec
	require.NoError(t, json.Unmarshal(js.Bytes(), &fromJSON))
	assert.Equal(t, specs, fromJSON)

	var ym bytes.Buffer
	require.NoError(t, writeOutput(&ym, "yaml", specs))
	var fromYAML []nativeSpec
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &fromYAML))
	assert.Equal(t, specs, fromYAML)
	assert.Contains(t, ym.String(), "engine: cesium")
}

func TestSimulate_MeasurePolygon(t *testing.T) {
	steps := make([]step, 0, 5)
	for _, s := range []string{"tool:measure", "click:100,100", "click:300,100", "click:300,300", "click:102,101"} {
		st, err := parseStep(s)
		require.NoError(t, err)
		steps = append(steps, st)
	}

	r, err := simulate(context.Background(), loadDocument(t), nil, "", 1, nil, steps)
	require.NoError(t, err)

	assert.Equal(t, "maplibre", r.Engine)
	assert.Equal(t, "measure", r.State.ActiveToolID())
	require.NotNil(t, r.Measure)
	assert.True(t, r.Measure.Closed)
	assert.Len(t, r.Measure.Coordinates, 3)
	assert.Positive(t, r.Measure.AreaM2)
	assert.Positive(t, r.Measure.LengthM)
	assert.True(t, r.Scale.Available())
	assert.NotZero(t, r.Requested)
}

func TestSimulate_SwitchEngineKeepsViewport(t *testing.T) {
	var steps []step
	for _, s := range []string{"view:4.9,52.37,12", "show:relief", "engine:leaflet"} {
		st, err := parseStep(s)
		require.NoError(t, err)
		steps = append(steps, st)
	}

	r, err := simulate(context.Background(), loadDocument(t), nil, "", 1, nil, steps)
	require.NoError(t, err)

	assert.Equal(t, "leaflet", r.Engine)
	assert.InDelta(t, 12, r.Viewport.Zoom, 1e-9)
	assert.InDelta(t, 4.9, r.Viewport.Center.Lon(), 1e-6)
	assert.ElementsMatch(t, []string{"base", "relief"}, r.State.VisibleLayers)
}

func TestValidateCommand(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs([]string{"validate", writeDocument(t, testDocument)})
		require.NoError(t, rootCmd.Execute())
		assert.Contains(t, out.String(), "ok (2 sources, 2 layers, 1 visible)")
	})

	t.Run("broken reference", func(t *testing.T) {
		broken := strings.Replace(testDocument, "- source: osm", "- source: nope", 1)
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(io.Discard)
		rootCmd.SetArgs([]string{"validate", writeDocument(t, broken)})
		err := rootCmd.Execute()
		require.ErrorIs(t, err, config.ErrInvalid)
		assert.Contains(t, err.Error(), `unknown source "nope"`)
	})
}

func TestFetchRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/poi.geojson" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[9.7,52.4]},"properties":{}}]}`))
	}))
	defer srv.Close()

	withSource := func(url string) *config.Document {
		doc := loadDocument(t)
		doc.Catalog.Sources = append(doc.Catalog.Sources, catalog.Source{ID: "poi", Type: catalog.KindGeoJSON, URL: url})
		return doc
	}
	loader := mbgeojson.NewLoader(srv.Client())

	t.Run("reachable", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, fetchRemote(context.Background(), withSource(srv.URL+"/poi.geojson"), loader, 2, &out))
		assert.Contains(t, out.String(), "Loaded 1/1 sources (0 failed)")
	})

	t.Run("missing", func(t *testing.T) {
		var out bytes.Buffer
		err := fetchRemote(context.Background(), withSource(srv.URL+"/gone.geojson"), loader, 2, &out)
		require.Error(t, err)
		assert.Contains(t, out.String(), "poi: fetch")
	})

	t.Run("no remote sources", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, fetchRemote(context.Background(), loadDocument(t), loader, 2, &out))
		assert.Empty(t, out.String())
	})
}
