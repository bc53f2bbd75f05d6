package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/route"
	t "github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// WeatherCache remembers the last good weather snapshot per map cell.
type WeatherCache struct {
	store  Store
	zoom   uint32
	ttl    time.Duration
	writes singleflight.Group
}

func NewWeatherCache(store Store, zoom uint32, ttl time.Duration) *WeatherCache {
	return &WeatherCache{store: store, zoom: zoom, ttl: ttl}
}

func (c *WeatherCache) key(at t.Coordinate) string {
	return "weather:" + route.CellKey(at, c.zoom)
}

func (c *WeatherCache) Get(ctx context.Context, at t.Coordinate) (*t.Weather, bool, error) {
	b, ok, err := c.store.Get(ctx, c.key(at))
	if err != nil || !ok {
		return nil, false, err
	}
	var w t.Weather
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, false, errors.Wrap(err, "decode cached weather")
	}
	return &w, true, nil
}

// Put stores w for the cell containing at. Concurrent writers to the same
// cell share a single store write.
func (c *WeatherCache) Put(ctx context.Context, at t.Coordinate, w t.Weather) error {
	key := c.key(at)
	_, err, _ := c.writes.Do(key, func() (interface{}, error) {
		b, err := json.Marshal(w)
		if err != nil {
			return nil, errors.Wrap(err, "encode weather")
		}
		return nil, c.store.Set(ctx, key, b, c.ttl)
	})
	return err
}

// RouteCache remembers the last routes the provider returned for an
// origin/destination pair.
type RouteCache struct {
	store  Store
	ttl    time.Duration
	writes singleflight.Group
}

func NewRouteCache(store Store, ttl time.Duration) *RouteCache {
	return &RouteCache{store: store, ttl: ttl}
}

func routeKey(origin, destination t.Coordinate) string {
	return "routes:" + route.PointKey(origin) + "|" + route.PointKey(destination)
}

func (c *RouteCache) Get(ctx context.Context, origin, destination t.Coordinate) ([]t.CandidateRoute, bool, error) {
	b, ok, err := c.store.Get(ctx, routeKey(origin, destination))
	if err != nil || !ok {
		return nil, false, err
	}
	var routes []t.CandidateRoute
	if err := json.Unmarshal(b, &routes); err != nil {
		return nil, false, errors.Wrap(err, "decode cached routes")
	}
	return routes, len(routes) > 0, nil
}

// Put stores the provider's routes without any derived sample data.
func (c *RouteCache) Put(ctx context.Context, origin, destination t.Coordinate, routes []t.CandidateRoute) error {
	stripped := make([]t.CandidateRoute, len(routes))
	for i, r := range routes {
		r.SamplePoints, r.Features = nil, nil
		stripped[i] = r
	}
	key := routeKey(origin, destination)
	_, err, _ := c.writes.Do(key, func() (interface{}, error) {
		b, err := json.Marshal(stripped)
		if err != nil {
			return nil, errors.Wrap(err, "encode routes")
		}
		return nil, c.store.Set(ctx, key, b, c.ttl)
	})
	return err
}
