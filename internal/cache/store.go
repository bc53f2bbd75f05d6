package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Store is a byte-oriented key/value store with per-entry expiry. Writes are
// last-write-wins and readers never block on a concurrent write to another
// key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisStore struct {
	rc     *redis.Client
	prefix string
}

func NewRedisStore(rc *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rc: rc, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rc.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %v", key)
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rc.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %v", key)
	}
	return nil
}

// MemoryStore keeps entries in process. Expired entries are hidden on read
// and removed by the cron sweep.
type MemoryStore struct {
	items   *gocache.Cache
	sweeper *cron.Cron
}

func NewMemoryStore() *MemoryStore {
	// no janitor goroutine, StartSweeper owns expiry
	return &MemoryStore{items: gocache.New(gocache.NoExpiration, 0)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false, errors.Errorf("memory store: unexpected %T under %v", v, key)
	}
	return b, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	d := gocache.NoExpiration
	if ttl > 0 {
		d = ttl
	}
	s.items.Set(key, append([]byte(nil), value...), d)
	return nil
}

// Sweep drops expired entries.
func (s *MemoryStore) Sweep() {
	s.items.DeleteExpired()
}

// Len counts stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	return s.items.ItemCount()
}

// StartSweeper schedules Sweep on a cron spec such as "@every 1m".
func (s *MemoryStore) StartSweeper(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.Sweep); err != nil {
		return errors.Wrapf(err, "schedule cache sweep %q", spec)
	}
	c.Start()
	s.sweeper = c
	return nil
}

func (s *MemoryStore) Close() {
	if s.sweeper != nil {
		<-s.sweeper.Stop().Done()
	}
}
