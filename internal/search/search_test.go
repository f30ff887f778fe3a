package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var amsterdam = types.BoundingBox{MinLon: 4.8, MinLat: 52.3, MaxLon: 5.0, MaxLat: 52.4}

type fakeQuerier struct {
	mu      sync.Mutex
	queries []string
	result  overpass.Result
	err     error
	block   chan struct{}
}

func (f *fakeQuerier) Query(q string) (overpass.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

func namedNodes(n int) overpass.Result {
	nodes := make(map[int64]*overpass.Node, n)
	for i := 1; i <= n; i++ {
		nodes[int64(i)] = &overpass.Node{Meta: overpass.Meta{ID: int64(i), Tags: map[string]string{"name": "Dam"}}, Lat: 52.37, Lon: 4.89}
	}
	return overpass.Result{Nodes: nodes}
}

func TestBuildQuery(t *testing.T) {
	q := BuildQuery(`Café "Nol" (1.0)`, amsterdam, 10)

	assert.Contains(t, q, `node["name"~"Café \"Nol\" \\(1\\.0\\)",i](52.300000,4.800000,52.400000,5.000000);`)
	assert.Contains(t, q, "out geom 10;")
	assert.Equal(t, 3, strings.Count(q, "(52.300000,4.800000,52.400000,5.000000)"))
}

func TestOverpassProvider_Search(t *testing.T) {
	fq := &fakeQuerier{result: namedNodes(5)}
	p := NewOverpassProviderWithClient(fq, quietLogger())

	fc, err := p.Search(context.Background(), Query{Text: " dam ", Bounds: amsterdam, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, fc.Features, 3)
	require.Len(t, fq.queries, 1)
	assert.Contains(t, fq.queries[0], `"dam",i`)
}

func TestOverpassProvider_Errors(t *testing.T) {
	p := NewOverpassProviderWithClient(&fakeQuerier{err: errors.New("429 too many requests")}, quietLogger())

	_, err := p.Search(context.Background(), Query{Text: "  ", Bounds: amsterdam})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = p.Search(context.Background(), Query{Text: "dam", Bounds: types.BoundingBox{MinLon: 5, MaxLon: 4}})
	assert.ErrorContains(t, err, "invalid bounds")

	_, err = p.Search(context.Background(), Query{Text: "dam", Bounds: amsterdam})
	assert.ErrorContains(t, err, "429")
}

func TestOverpassProvider_CanceledContext(t *testing.T) {
	fq := &fakeQuerier{block: make(chan struct{})}
	defer close(fq.block)
	p := NewOverpassProviderWithClient(fq, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Search(ctx, Query{Text: "dam", Bounds: amsterdam})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// gatedProvider releases each search when its gate is closed.
type gatedProvider struct {
	gates map[string]chan struct{}
}

func (g *gatedProvider) Search(_ context.Context, q Query) (*geojson.FeatureCollection, error) {
	<-g.gates[q.Text]
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(nil)
	f.Properties["q"] = q.Text
	return fc.Append(f), nil
}

func TestSession_DiscardsStaleResults(t *testing.T) {
	gp := &gatedProvider{gates: map[string]chan struct{}{"a": make(chan struct{}), "ab": make(chan struct{})}}
	s := NewSession(gp, quietLogger())

	var (
		mu  sync.Mutex
		got []string
	)
	deliver := func(fc *geojson.FeatureCollection, err error) {
		assert.NoError(t, err)
		mu.Lock()
		got = append(got, fc.Features[0].Properties["q"].(string))
		mu.Unlock()
	}

	s.Submit(context.Background(), Query{Text: "a"}, deliver)
	s.Submit(context.Background(), Query{Text: "ab"}, deliver)

	close(gp.gates["ab"])
	close(gp.gates["a"])
	s.Wait()

	assert.Equal(t, []string{"ab"}, got)
}

func TestSession_SearchReportsStale(t *testing.T) {
	gp := &gatedProvider{gates: map[string]chan struct{}{"old": make(chan struct{}), "new": make(chan struct{})}}
	s := NewSession(gp, quietLogger())

	errc := make(chan error, 1)
	go func() {
		_, err := s.Search(context.Background(), Query{Text: "old"})
		errc <- err
	}()
	// let the first search register before starting the second
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gen == 1
	}, time.Second, time.Millisecond)

	close(gp.gates["new"])
	fc, err := s.Search(context.Background(), Query{Text: "new"})
	require.NoError(t, err)
	assert.Equal(t, "new", fc.Features[0].Properties["q"])

	close(gp.gates["old"])
	assert.ErrorIs(t, <-errc, ErrStale)
}

func TestSession_CloseDropsPending(t *testing.T) {
	gp := &gatedProvider{gates: map[string]chan struct{}{"a": make(chan struct{})}}
	s := NewSession(gp, quietLogger())

	called := false
	s.Submit(context.Background(), Query{Text: "a"}, func(*geojson.FeatureCollection, error) { called = true })
	s.Close()
	close(gp.gates["a"])
	s.Wait()

	assert.False(t, called)
	_, err := s.Search(context.Background(), Query{Text: "a"})
	assert.ErrorIs(t, err, ErrStale)
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("MAPBRIDGE_INTEGRATION") != "1" {
		t.Skip("set MAPBRIDGE_INTEGRATION=1 to run network tests")
	}
}

func TestOverpassProvider_Live(t *testing.T) {
	requireIntegration(t)

	p := NewOverpassProvider("", quietLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	fc, err := p.Search(ctx, Query{Text: "Rijksmuseum", Bounds: amsterdam, Limit: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, fc.Features)
}
