package geojson

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/paulmach/orb/geojson"
)

// maxBodySize caps downloaded documents.
const maxBodySize = 64 << 20

// ErrTooLarge is returned for documents larger than the loader accepts.
var ErrTooLarge = errors.New("geojson: document too large")

// Loader fetches GeoJSON documents over HTTP.
type Loader struct {
	client *http.Client
}

// NewLoader returns a loader using client, or http.DefaultClient when nil.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client}
}

// Fetch downloads url and parses it. A bare Feature or Geometry is wrapped
// in a FeatureCollection.
func (l *Loader) Fetch(ctx context.Context, url string) (*geojson.FeatureCollection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("%s: %w", url, ErrTooLarge)
	}
	return Parse(data)
}

// Parse decodes a FeatureCollection, a Feature or a bare Geometry.
func Parse(data []byte) (*geojson.FeatureCollection, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(data); err == nil && fc.Type == "FeatureCollection" {
		return fc, nil
	}
	if f, err := geojson.UnmarshalFeature(data); err == nil && f.Type == "Feature" {
		return geojson.NewFeatureCollection().Append(f), nil
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	geom := g.Geometry()
	if geom == nil {
		return nil, errors.New("parse geojson: no geometry")
	}
	return geojson.NewFeatureCollection().Append(geojson.NewFeature(geom)), nil
}

