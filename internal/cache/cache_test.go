package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/evanhutnik/saferoute-service/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), 20*time.Millisecond))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	time.Sleep(50 * time.Millisecond)
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.True(t, ok)

	assert.Equal(t, 2, s.Len())
	s.Sweep()
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	value := []byte("sunny")
	require.NoError(t, s.Set(ctx, "w", value, time.Minute))
	value[0] = 'f'

	v, ok, err := s.Get(ctx, "w")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("sunny"), v)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.Set(ctx, "k", []byte("v"), time.Minute)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = s.Get(ctx, "k")
		}()
	}
	wg.Wait()
	v, ok, _ := s.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestMemoryStoreSweeper(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.StartSweeper("@every 1h"))
	s.Close()

	assert.Error(t, NewMemoryStore().StartSweeper("not a spec"))
}

func TestWeatherCacheSharesCell(t *testing.T) {
	ctx := context.Background()
	c := NewWeatherCache(NewMemoryStore(), 14, time.Hour)
	at := types.Coordinate{Latitude: 35.6812, Longitude: 139.7671}
	near := types.Coordinate{Latitude: 35.68125, Longitude: 139.76715}

	_, ok, err := c.Get(ctx, at)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, at, types.Weather{PrecipitationMMPerHour: 12, WindSpeedMPS: 4}))
	w, ok, err := c.Get(ctx, near)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12.0, w.PrecipitationMMPerHour)
	assert.Equal(t, 4.0, w.WindSpeedMPS)
}

func TestRouteCacheStripsSamples(t *testing.T) {
	ctx := context.Background()
	c := NewRouteCache(NewMemoryStore(), time.Hour)
	o := types.Coordinate{Latitude: 35.0, Longitude: 139.0}
	d := types.Coordinate{Latitude: 35.1, Longitude: 139.1}

	routes := []types.CandidateRoute{{
		Index:           0,
		Polyline:        "abc",
		DurationSeconds: 600,
		SamplePoints:    []types.Coordinate{o, d},
	}}
	require.NoError(t, c.Put(ctx, o, d, routes))

	got, ok, err := c.Get(ctx, o, d)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].Polyline)
	assert.Nil(t, got[0].SamplePoints)

	_, ok, _ = c.Get(ctx, d, o)
	assert.False(t, ok)
}
