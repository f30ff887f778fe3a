package cesium

import (
	"math"

	"github.com/MeKo-Tech/mapbridge/internal/geo"
)

// DistanceForZoom returns the camera range at which native zoom shows the
// same ground resolution as a 256 px Web Mercator map at lat.
func DistanceForZoom(zoom, lat float64, height int) float64 {
	mpp := geo.MetersPerPixel(lat, zoom, ImageryTileSize)
	return mpp * float64(height) / (2 * math.Tan(FieldOfView/2))
}

// ZoomForDistance is the inverse of DistanceForZoom.
func ZoomForDistance(distance, lat float64, height int) float64 {
	if distance <= 0 || height <= 0 {
		return math.NaN()
	}
	mpp := 2 * distance * math.Tan(FieldOfView/2) / float64(height)
	return math.Log2(geo.MetersPerPixel(lat, 0, ImageryTileSize) / mpp)
}

// frame is a camera pose derived from a target and a heading, pitch and
// range offset.
type frame struct {
	position Cartesian3
	forward  Cartesian3
	right    Cartesian3
	up       Cartesian3
	focal    float64
	width    float64
	height   float64
}

func newFrame(target Cartographic, hpr HeadingPitchRange, width, height int) frame {
	e, n, u := ENU(target)
	sinH, cosH := math.Sincos(hpr.Heading)
	sinP, cosP := math.Sincos(hpr.Pitch)
	f := e.Scale(sinH * cosP).Add(n.Scale(cosH * cosP)).Add(u.Scale(sinP)).Normalize()
	r := e.Scale(cosH).Sub(n.Scale(sinH)).Normalize()
	return frame{
		position: target.ToCartesian().Sub(f.Scale(hpr.Range)),
		forward:  f,
		right:    r,
		up:       r.Cross(f),
		focal:    float64(height) / 2 / math.Tan(FieldOfView/2),
		width:    float64(width),
		height:   float64(height),
	}
}

// ray returns the view direction through a window pixel.
func (f frame) ray(win Cartesian2) Cartesian3 {
	dx := (win.X - f.width/2) / f.focal
	dy := (win.Y - f.height/2) / f.focal
	return f.forward.Add(f.right.Scale(dx)).Sub(f.up.Scale(dy)).Normalize()
}

func (f frame) pick(win Cartesian2) (Cartesian3, bool) {
	return IntersectEllipsoid(f.position, f.ray(win))
}

func (f frame) toWindow(p Cartesian3) (Cartesian2, bool) {
	v := p.Sub(f.position)
	z := v.Dot(f.forward)
	if z <= 0 {
		return Cartesian2{}, false
	}
	return Cartesian2{
		X: f.width/2 + f.focal*v.Dot(f.right)/z,
		Y: f.height/2 - f.focal*v.Dot(f.up)/z,
	}, true
}
