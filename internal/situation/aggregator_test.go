package situation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/cache"
	"github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	origin      = types.Coordinate{Latitude: 35.6812, Longitude: 139.7671}
	destination = types.Coordinate{Latitude: 35.6586, Longitude: 139.7454}
	errUpstream = errors.New("upstream unavailable")
)

type weatherFunc func(ctx context.Context, at types.Coordinate) (*types.Weather, error)

func (f weatherFunc) Weather(ctx context.Context, at types.Coordinate) (*types.Weather, error) {
	return f(ctx, at)
}

type alertFunc func(ctx context.Context, near types.Coordinate) (*types.Alert, error)

func (f alertFunc) Alert(ctx context.Context, near types.Coordinate) (*types.Alert, error) {
	return f(ctx, near)
}

type hazardFunc func(ctx context.Context, area orb.Bound) (types.HazardLayers, error)

func (f hazardFunc) Layers(ctx context.Context, area orb.Bound) (types.HazardLayers, error) {
	return f(ctx, area)
}

type crimeFunc func(ctx context.Context, area orb.Bound) (types.CrimeDensity, error)

func (f crimeFunc) Density(ctx context.Context, area orb.Bound) (types.CrimeDensity, error) {
	return f(ctx, area)
}

func failingWeather() weatherFunc {
	return func(context.Context, types.Coordinate) (*types.Weather, error) { return nil, errUpstream }
}

func failingHazards() hazardFunc {
	return func(context.Context, orb.Bound) (types.HazardLayers, error) { return nil, errUpstream }
}

func heavyRain() weatherFunc {
	return func(context.Context, types.Coordinate) (*types.Weather, error) {
		alert := types.NewAlert(types.AlertRain, types.SeverityWarning, "Heavy rain warning", "", "openweather")
		return &types.Weather{PrecipitationMMPerHour: 80, WindSpeedMPS: 9, Alert: &alert}, nil
	}
}

func TestRainWarningEscalatesNormalRequest(t *testing.T) {
	a := New(zap.NewNop().Sugar(), WithWeather(heavyRain()))
	sc := a.Gather(context.Background(), Request{Origin: origin, Destination: destination, Mode: types.ModeNormal})

	require.NotNil(t, sc.Alert)
	assert.Equal(t, types.AlertRain, sc.Alert.Type)
	assert.True(t, sc.Alert.ShouldEscalate)
	assert.Equal(t, types.ModeEmergency, sc.Mode)
	assert.Equal(t, 80.0, sc.Weather.PrecipitationMMPerHour)
	assert.False(t, sc.DataQuality.Degraded())
}

func TestEverythingFailingStillReturnsContext(t *testing.T) {
	a := New(zap.NewNop().Sugar(),
		WithWeather(failingWeather()),
		WithHazards(failingHazards()),
		WithAlerts(alertFunc(func(context.Context, types.Coordinate) (*types.Alert, error) { return nil, errUpstream })),
		WithCrime(crimeFunc(func(context.Context, orb.Bound) (types.CrimeDensity, error) {
			return types.CrimeDensity{}, errUpstream
		})))

	sc := a.Gather(context.Background(), Request{Origin: origin, Destination: destination})

	assert.Equal(t, types.ModeNormal, sc.Mode)
	assert.Nil(t, sc.Alert)
	assert.Zero(t, sc.Weather.PrecipitationMMPerHour)
	assert.Zero(t, sc.Weather.WindSpeedMPS)
	assert.Empty(t, sc.HazardLayers)
	assert.Zero(t, sc.Crime.Default)
	assert.Equal(t, []string{"weather", "alerts", "hazard", "crime"}, sc.DataQuality.Flags())
	assert.False(t, sc.DataQuality.WeatherFromCache)
}

func TestPartialSourcesKeepWhatTheyRead(t *testing.T) {
	a := New(zap.NewNop().Sugar(),
		WithHazards(hazardFunc(func(context.Context, orb.Bound) (types.HazardLayers, error) {
			return types.HazardLayers{types.HazardFlood: {Present: true, MaxDepthMeters: 3}}, errors.New("gsi layer tsunami: 503")
		})),
		WithAlerts(alertFunc(func(context.Context, types.Coordinate) (*types.Alert, error) {
			quake := types.NewAlert(types.AlertEarthquake, types.SeverityWarning, "Strong earthquake", "", "p2pquake")
			return &quake, errors.New("tsunami areas unresolved")
		})))

	sc := a.Gather(context.Background(), Request{Origin: origin, Destination: destination})

	require.Contains(t, sc.HazardLayers, types.HazardFlood)
	assert.True(t, sc.HazardLayers[types.HazardFlood].Present)
	require.NotNil(t, sc.Alert)
	assert.Equal(t, types.AlertEarthquake, sc.Alert.Type)
	assert.Equal(t, types.ModeEmergency, sc.Mode)
	assert.Equal(t, []string{"alerts", "hazard"}, sc.DataQuality.Flags())
}

func TestWeatherFallsBackToCachedCell(t *testing.T) {
	store := cache.NewMemoryStore()
	defer store.Close()
	wc := cache.NewWeatherCache(store, 14, time.Hour)

	ok := true
	source := weatherFunc(func(ctx context.Context, at types.Coordinate) (*types.Weather, error) {
		if ok {
			return heavyRain()(ctx, at)
		}
		return nil, errUpstream
	})
	a := New(zap.NewNop().Sugar(), WithWeather(source), WithWeatherCache(wc))
	req := Request{Origin: origin, Destination: destination}

	first := a.Gather(context.Background(), req)
	require.False(t, first.DataQuality.WeatherDegraded)

	ok = false
	second := a.Gather(context.Background(), req)
	assert.True(t, second.DataQuality.WeatherDegraded)
	assert.True(t, second.DataQuality.WeatherFromCache)
	assert.Equal(t, 80.0, second.Weather.PrecipitationMMPerHour)
	require.NotNil(t, second.Alert)
	assert.Equal(t, types.AlertRain, second.Alert.Type)
}

func TestTimeoutIsPerCall(t *testing.T) {
	slow := weatherFunc(func(ctx context.Context, _ types.Coordinate) (*types.Weather, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	hazards := hazardFunc(func(context.Context, orb.Bound) (types.HazardLayers, error) {
		return types.HazardLayers{types.HazardFlood: {Present: true, MaxDepthMeters: 2}}, nil
	})
	a := New(zap.NewNop().Sugar(), WithWeather(slow), WithHazards(hazards), WithTimeout(20*time.Millisecond))

	start := time.Now()
	sc := a.Gather(context.Background(), Request{Origin: origin, Destination: destination})
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, sc.DataQuality.WeatherDegraded)
	assert.False(t, sc.DataQuality.HazardDegraded)
	assert.True(t, sc.HazardLayers[types.HazardFlood].Present)
}

func TestAlertMerge(t *testing.T) {
	quake := alertFunc(func(context.Context, types.Coordinate) (*types.Alert, error) {
		a := types.NewAlert(types.AlertTsunami, types.SeverityCritical, "Major tsunami warning", "", "p2pquake")
		return &a, nil
	})
	a := New(zap.NewNop().Sugar(), WithWeather(heavyRain()), WithAlerts(quake))
	sc := a.Gather(context.Background(), Request{Origin: origin, Destination: destination})

	require.NotNil(t, sc.Alert)
	assert.Equal(t, types.AlertTsunami, sc.Alert.Type)
	assert.Equal(t, types.ModeEmergency, sc.Mode)
}

func TestOverrideWins(t *testing.T) {
	landslide := types.AlertLandslide
	a := New(zap.NewNop().Sugar(), WithWeather(failingWeather()))
	sc := a.Gather(context.Background(), Request{Origin: origin, Destination: destination, Override: &landslide})

	require.NotNil(t, sc.Alert)
	assert.Equal(t, types.AlertLandslide, sc.Alert.Type)
	assert.True(t, sc.Alert.ShouldEscalate)
	assert.Equal(t, types.ModeEmergency, sc.Mode)
	// the override does not hide the failed fetch
	assert.True(t, sc.DataQuality.WeatherDegraded)

	none := types.AlertNone
	a = New(zap.NewNop().Sugar(), WithWeather(heavyRain()))
	sc = a.Gather(context.Background(), Request{Origin: origin, Destination: destination, Override: &none})
	assert.Nil(t, sc.Alert)
	assert.Equal(t, types.ModeNormal, sc.Mode)
}

func TestExplicitEmergencyKept(t *testing.T) {
	a := New(zap.NewNop().Sugar())
	sc := a.Gather(context.Background(), Request{Origin: origin, Destination: destination, Mode: types.ModeEmergency})
	assert.Equal(t, types.ModeEmergency, sc.Mode)
	assert.True(t, sc.Area.Contains(origin.Point()))
	assert.True(t, sc.Area.Contains(destination.Point()))
}
