package gmaps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	kind, ok := classify([]string{"establishment", "police", "point_of_interest"})
	assert.True(t, ok)
	assert.Equal(t, types.SpotPolice, kind)

	kind, ok = classify([]string{"store", "convenience_store"})
	assert.True(t, ok)
	assert.Equal(t, types.SpotConvenience, kind)

	_, ok = classify([]string{"cafe"})
	assert.False(t, ok)
}

func TestNewPanicsWithoutKey(t *testing.T) {
	assert.Panics(t, func() { New() })
}

func TestSolarShadow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("location.latitude") {
		case "35.1":
			_, _ = w.Write([]byte(`{"name":"buildings/1","solarPotential":{"maxSunshineHoursPerYear":400}}`))
		case "35.2":
			_, _ = w.Write([]byte(`{"name":"buildings/2","solarPotential":{"maxSunshineHoursPerYear":1600}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewSolar("key", srv.URL, 800, srv.Client())
	ctx := context.Background()

	shadow, err := s.Shadow(ctx, types.Coordinate{Latitude: 35.1, Longitude: 139})
	require.NoError(t, err)
	assert.True(t, shadow)

	shadow, err = s.Shadow(ctx, types.Coordinate{Latitude: 35.2, Longitude: 139})
	require.NoError(t, err)
	assert.False(t, shadow)

	shadow, err = s.Shadow(ctx, types.Coordinate{Latitude: 35.3, Longitude: 139})
	require.NoError(t, err)
	assert.False(t, shadow)
}

func TestRoutesFromDirections(t *testing.T) {
	var waypoints string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/directions/json"))
		waypoints = r.URL.Query().Get("waypoints")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","geocoded_waypoints":[],"routes":[
			{"summary":"Omotesando","overview_polyline":{"points":"_p~iF~ps|U_ulLnnqC"},
			 "legs":[{"distance":{"text":"1.2 km","value":1200},"duration":{"text":"15 mins","value":900},"steps":[]}]}
		]}`))
	}))
	defer srv.Close()

	c := New(ApiKeyOption("AIza-test"), BaseUrlOption(srv.URL), HTTPClientOption(srv.Client()))
	wp := types.Coordinate{Latitude: 35.5, Longitude: 139.5}
	routes, err := c.Routes(context.Background(),
		types.Coordinate{Latitude: 35.4, Longitude: 139.4},
		types.Coordinate{Latitude: 35.6, Longitude: 139.6},
		[]types.Coordinate{wp}, 3)
	require.NoError(t, err)
	require.Len(t, routes, 1)

	assert.Equal(t, "via:"+wp.String(), waypoints)
	assert.Equal(t, "Omotesando", routes[0].Summary)
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC", routes[0].Polyline)
	assert.Equal(t, 900.0, routes[0].DurationSeconds)
	assert.Equal(t, 1200.0, routes[0].DistanceMeters)
	assert.Equal(t, []types.Coordinate{wp}, routes[0].Waypoints)
}

func TestAreaNames(t *testing.T) {
	var query url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/geocode/json"))
		query = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"OK","results":[
			{"formatted_address":"日本、東京都千代田区丸の内１丁目","place_id":"a","types":["street_address"],
			 "geometry":{"location":{"lat":35.6812,"lng":139.7671}},
			 "address_components":[
				{"long_name":"丸の内","short_name":"丸の内","types":["sublocality_level_2","sublocality","political"]},
				{"long_name":"千代田区","short_name":"千代田区","types":["locality","political"]},
				{"long_name":"東京都","short_name":"東京都","types":["administrative_area_level_1","political"]},
				{"long_name":"日本","short_name":"JP","types":["country","political"]}]},
			{"formatted_address":"日本、東京都千代田区","place_id":"b","types":["locality"],
			 "geometry":{"location":{"lat":35.69,"lng":139.75}},
			 "address_components":[
				{"long_name":"千代田区","short_name":"千代田区","types":["locality","political"]},
				{"long_name":"東京都","short_name":"東京都","types":["administrative_area_level_1","political"]}]}
		]}`))
	}))
	defer srv.Close()

	c := New(ApiKeyOption("AIza-test"), BaseUrlOption(srv.URL), HTTPClientOption(srv.Client()))
	names, err := c.AreaNames(context.Background(), types.Coordinate{Latitude: 35.6812, Longitude: 139.7671})
	require.NoError(t, err)
	assert.Equal(t, []string{"千代田区", "東京都"}, names)
	assert.Equal(t, "ja", query.Get("language"))
	assert.Equal(t, "35.6812,139.7671", query.Get("latlng"))
}
