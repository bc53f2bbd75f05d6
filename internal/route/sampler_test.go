package route

import (
	"testing"

	"github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ~1.11km due north per 0.01 degree of latitude.
var northLine = []types.Coordinate{
	{Latitude: 35.00, Longitude: 139.0},
	{Latitude: 35.01, Longitude: 139.0},
	{Latitude: 35.02, Longitude: 139.0},
}

func TestDecodeKnownPolyline(t *testing.T) {
	pts, err := Decode("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.InDelta(t, 38.5, pts[0].Latitude, 1e-6)
	assert.InDelta(t, -120.2, pts[0].Longitude, 1e-6)
	assert.InDelta(t, 43.252, pts[2].Latitude, 1e-6)
	assert.InDelta(t, -126.453, pts[2].Longitude, 1e-6)
}

func TestSampleIncludesEndpointsExactly(t *testing.T) {
	poly := Encode(northLine)
	decoded, err := Decode(poly)
	require.NoError(t, err)

	for _, interval := range []float64{1, 37, 100, 250, 999, 5000} {
		pts, err := Sample(poly, interval)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(pts), 2)
		assert.Equal(t, decoded[0], pts[0], "interval %v", interval)
		assert.Equal(t, decoded[len(decoded)-1], pts[len(pts)-1], "interval %v", interval)
	}
}

func TestSampleSpacing(t *testing.T) {
	pts := SamplePath(northLine, 100)
	total := Distance(northLine[0], northLine[2])
	// one point per full interval plus both endpoints
	assert.Len(t, pts, int(total/100)+2)
	for i := 1; i < len(pts)-1; i++ {
		assert.InDelta(t, 100, Distance(pts[i-1], pts[i]), 0.5)
	}
	assert.LessOrEqual(t, Distance(pts[len(pts)-2], pts[len(pts)-1]), 100.5)
}

func TestSampleIsDeterministic(t *testing.T) {
	poly := Encode(northLine)
	a, err := Sample(poly, 120)
	require.NoError(t, err)
	b, err := Sample(poly, 120)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSampleShortRouteYieldsEndpoints(t *testing.T) {
	short := []types.Coordinate{{Latitude: 35.0, Longitude: 139.0}, {Latitude: 35.0001, Longitude: 139.0}}
	pts := SamplePath(short, 100)
	assert.Equal(t, short, pts)
}

func TestSampleSingleVertex(t *testing.T) {
	one := []types.Coordinate{{Latitude: 35.0, Longitude: 139.0}}
	assert.Equal(t, one, SamplePath(one, 100))
}

func TestSampleErrors(t *testing.T) {
	_, err := Sample("", 100)
	assert.Error(t, err)

	_, err = Sample(Encode(northLine), 0)
	assert.Error(t, err)
}

func TestCentroid(t *testing.T) {
	c, ok := Centroid([]types.Coordinate{{Latitude: 1, Longitude: 1}, {Latitude: 3, Longitude: 5}})
	require.True(t, ok)
	assert.InDelta(t, 2, c.Latitude, 1e-9)
	assert.InDelta(t, 3, c.Longitude, 1e-9)

	_, ok = Centroid(nil)
	assert.False(t, ok)
}

func TestUniquePoints(t *testing.T) {
	a := types.CandidateRoute{SamplePoints: []types.Coordinate{northLine[0], northLine[1]}}
	b := types.CandidateRoute{SamplePoints: []types.Coordinate{northLine[1], northLine[2]}}
	assert.Equal(t, northLine, UniquePoints([]types.CandidateRoute{a, b}))
}

func TestCellKeyGroupsNearbyPoints(t *testing.T) {
	a := types.Coordinate{Latitude: 35.6812, Longitude: 139.7671}
	b := types.Coordinate{Latitude: 35.68121, Longitude: 139.76711}
	assert.Equal(t, CellKey(a, 14), CellKey(b, 14))
	assert.NotEqual(t, CellKey(a, 14), CellKey(types.Coordinate{Latitude: 34.7, Longitude: 135.5}, 14))
}

func TestSpread(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, Spread(3, 5))
	assert.Equal(t, []int{0, 5, 10}, Spread(11, 3))
	assert.Equal(t, []int{2}, Spread(5, 1))
	assert.Nil(t, Spread(0, 3))
}
