// Package search finds named features inside the current map view.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/MeKo-Christian/go-overpass"
	mbgeojson "github.com/MeKo-Tech/mapbridge/internal/geojson"
	"github.com/MeKo-Tech/mapbridge/internal/types"
	"github.com/paulmach/orb/geojson"
)

// DefaultEndpoint is the public Overpass API interpreter.
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// DefaultLimit caps the number of returned features.
const DefaultLimit = 50

// ErrEmptyQuery is returned for blank search text.
var ErrEmptyQuery = errors.New("search: empty query")

// Query is one search request.
type Query struct {
	Text   string
	Bounds types.BoundingBox
	Limit  int
}

// Provider answers search queries with GeoJSON features.
type Provider interface {
	Search(ctx context.Context, q Query) (*geojson.FeatureCollection, error)
}

// Querier runs raw Overpass QL. overpass.Client implements it.
type Querier interface {
	Query(query string) (overpass.Result, error)
}

// OverpassProvider searches OSM names through the Overpass API.
type OverpassProvider struct {
	client Querier
	logger *slog.Logger
}

// NewOverpassProvider creates a provider for endpoint, or DefaultEndpoint
// when empty.
func NewOverpassProvider(endpoint string, logger *slog.Logger) *OverpassProvider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	// one request at a time, as the public instances ask
	client := overpass.NewWithSettings(endpoint, 1, http.DefaultClient)
	return NewOverpassProviderWithClient(&client, logger)
}

// NewOverpassProviderWithClient creates a provider over an existing client.
func NewOverpassProviderWithClient(client Querier, logger *slog.Logger) *OverpassProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverpassProvider{client: client, logger: logger.With("component", "search")}
}

// Search implements Provider. The Overpass client is not context aware, so
// a canceled ctx returns immediately and the request finishes in the
// background with its result dropped.
func (p *OverpassProvider) Search(ctx context.Context, q Query) (*geojson.FeatureCollection, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	if !q.Bounds.Valid() {
		return nil, fmt.Errorf("search %q: invalid bounds %s", text, q.Bounds)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	ql := BuildQuery(text, q.Bounds, limit)

	type outcome struct {
		res overpass.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.client.Query(ql)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		if o.err != nil {
			p.logger.Warn("overpass query failed", "op", "search", "query", text, "error", o.err)
			return nil, fmt.Errorf("overpass query failed: %w", o.err)
		}
		fc := mbgeojson.FromOverpass(&o.res)
		if len(fc.Features) > limit {
			fc.Features = fc.Features[:limit]
		}
		return fc, nil
	}
}

var qlEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// BuildQuery returns the Overpass QL for a case-insensitive name search
// inside bounds. Per-element bbox filters return whole geometries of
// features that cross the edge of the view.
func BuildQuery(text string, bounds types.BoundingBox, limit int) string {
	pattern := qlEscaper.Replace(regexp.QuoteMeta(text))
	bbox := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", bounds.MinLat, bounds.MinLon, bounds.MaxLat, bounds.MaxLon)
	return fmt.Sprintf(`[out:json][timeout:25];
(
  node["name"~"%[1]s",i](%[2]s);
  way["name"~"%[1]s",i](%[2]s);
  relation["name"~"%[1]s",i](%[2]s);
);
out geom %[3]d;
`, pattern, bbox, limit)
}
