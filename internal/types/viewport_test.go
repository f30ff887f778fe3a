package types

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestBoundingBoxExpandByFraction(t *testing.T) {
	b := BoundingBox{MinLon: 10, MinLat: 20, MaxLon: 30, MaxLat: 40}

	expanded := b.ExpandByFraction(0.1)
	// width=20, height=20 => delta=2 on each side
	if expanded.MinLon != 8 || expanded.MaxLon != 32 || expanded.MinLat != 18 || expanded.MaxLat != 42 {
		t.Fatalf("unexpected expanded bbox: %+v", expanded)
	}

	unchanged := b.ExpandByFraction(0)
	if unchanged != b {
		t.Fatalf("expected unchanged bbox, got %+v", unchanged)
	}

	polar := BoundingBox{MinLon: 0, MinLat: -89, MaxLon: 10, MaxLat: 89}.ExpandByFraction(0.5)
	if polar.MinLat != -90 || polar.MaxLat != 90 {
		t.Fatalf("latitude should clamp to +-90, got %+v", polar)
	}
}

func TestBoundingBoxValid(t *testing.T) {
	tests := []struct {
		name string
		box  BoundingBox
		want bool
	}{
		{"ordered", BoundingBox{0, 0, 1, 1}, true},
		{"inverted", BoundingBox{1, 0, 0, 1}, false},
		{"nan", BoundingBox{math.NaN(), 0, 1, 1}, false},
		{"point", BoundingBox{1, 1, 1, 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBoundsOfPolygon(t *testing.T) {
	if _, ok := BoundsOfPolygon(nil); ok {
		t.Fatal("expected empty polygon to have no bounds")
	}

	p := orb.Polygon{{{4, 52}, {5, 52}, {5, 53}, {4, 53}, {4, 52}}}
	b, ok := BoundsOfPolygon(p)
	if !ok {
		t.Fatal("expected bounds")
	}
	if b.SW != (LngLat{4, 52}) || b.NE != (LngLat{5, 53}) {
		t.Fatalf("unexpected bounds %+v", b)
	}
}

func TestPixelDistance(t *testing.T) {
	a := Pixel{X: 0, Y: 0}
	if d := a.DistanceTo(a.Add(3, 4)); d != 5 {
		t.Fatalf("DistanceTo = %v, want 5", d)
	}
}
