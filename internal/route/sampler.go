package route

import (
	"fmt"
	"math"

	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"
	"googlemaps.github.io/maps"
)

// endpointTolerance is how close, in meters, an emitted point must be to the
// final vertex to be treated as that vertex.
const endpointTolerance = 0.01

// Sample decodes an encoded polyline (precision 5) and resamples it every
// intervalMeters along the path.
func Sample(polyline string, intervalMeters float64) ([]t.Coordinate, error) {
	if intervalMeters <= 0 {
		return nil, errors.Errorf("sampling interval must be positive, got %v", intervalMeters)
	}
	vertices, err := Decode(polyline)
	if err != nil {
		return nil, err
	}
	return SamplePath(vertices, intervalMeters), nil
}

func Decode(polyline string) ([]t.Coordinate, error) {
	if polyline == "" {
		return nil, errors.New("empty polyline")
	}
	latLngs, err := maps.DecodePolyline(polyline)
	if err != nil {
		return nil, errors.Wrap(err, "decode polyline")
	}
	if len(latLngs) == 0 {
		return nil, errors.New("polyline has no vertices")
	}
	out := make([]t.Coordinate, len(latLngs))
	for i, ll := range latLngs {
		out[i] = t.Coordinate{Latitude: ll.Lat, Longitude: ll.Lng}
	}
	return out, nil
}

func Encode(path []t.Coordinate) string {
	latLngs := make([]maps.LatLng, len(path))
	for i, c := range path {
		latLngs[i] = maps.LatLng{Lat: c.Latitude, Lng: c.Longitude}
	}
	return maps.Encode(latLngs)
}

// SamplePath walks vertices accumulating haversine distance and emits an
// interpolated point each time the accumulated distance reaches
// intervalMeters. The first and last vertices are always included exactly.
func SamplePath(vertices []t.Coordinate, intervalMeters float64) []t.Coordinate {
	if len(vertices) == 0 {
		return nil
	}
	if intervalMeters <= 0 {
		return append([]t.Coordinate(nil), vertices...)
	}

	out := []t.Coordinate{vertices[0]}
	if len(vertices) == 1 {
		return out
	}

	var acc float64
	for i := 1; i < len(vertices); i++ {
		a, b := vertices[i-1], vertices[i]
		seg := Distance(a, b)
		pos := 0.0
		for acc+(seg-pos) >= intervalMeters {
			pos += intervalMeters - acc
			out = append(out, interpolate(a, b, pos/seg))
			acc = 0
		}
		acc += seg - pos
	}

	last := vertices[len(vertices)-1]
	if len(out) > 1 && Distance(out[len(out)-1], last) < endpointTolerance {
		out[len(out)-1] = last
	} else {
		out = append(out, last)
	}
	return out
}

func interpolate(a, b t.Coordinate, frac float64) t.Coordinate {
	if frac >= 1 {
		return b
	}
	return t.Coordinate{
		Latitude:  a.Latitude + (b.Latitude-a.Latitude)*frac,
		Longitude: a.Longitude + (b.Longitude-a.Longitude)*frac,
	}
}

// Distance is the haversine distance in meters.
func Distance(a, b t.Coordinate) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point())
}

// Centroid is the mean position of points. ok is false for an empty input.
func Centroid(points []t.Coordinate) (c t.Coordinate, ok bool) {
	if len(points) == 0 {
		return t.Coordinate{}, false
	}
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = p.Point()
	}
	center, _ := planar.CentroidArea(mp)
	return t.FromPoint(center), true
}

// PointKey identifies a coordinate to roughly 10cm.
func PointKey(c t.Coordinate) string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// UniquePoints returns the distinct sample points across routes in first-seen
// order.
func UniquePoints(routes []t.CandidateRoute) []t.Coordinate {
	seen := make(map[string]struct{})
	var out []t.Coordinate
	for _, r := range routes {
		for _, p := range r.SamplePoints {
			k := PointKey(p)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// CellKey names the web mercator tile containing c at zoom.
func CellKey(c t.Coordinate, zoom uint32) string {
	tile := maptile.At(c.Point(), maptile.Zoom(zoom))
	return fmt.Sprintf("%d/%d/%d", tile.Z, tile.X, tile.Y)
}

// Area is the bound of points padded by padMeters on every side.
func Area(padMeters float64, points ...t.Coordinate) orb.Bound {
	if len(points) == 0 {
		return orb.Bound{}
	}
	mp := make(orb.MultiPoint, len(points))
	for i, p := range points {
		mp[i] = p.Point()
	}
	b := mp.Bound()
	if padMeters > 0 {
		b = geo.BoundPad(b, padMeters)
	}
	return b
}

// Spread picks n indexes evenly spaced over [0, length), always including
// the first and last when n > 1.
func Spread(length, n int) []int {
	if n <= 0 || length <= 0 {
		return nil
	}
	if n >= length {
		idx := make([]int, length)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	if n == 1 {
		return []int{length / 2}
	}
	idx := make([]int, 0, n)
	step := float64(length-1) / float64(n-1)
	for i := 0; i < n; i++ {
		j := int(math.Round(float64(i) * step))
		if len(idx) > 0 && idx[len(idx)-1] == j {
			continue
		}
		idx = append(idx, j)
	}
	return idx
}
