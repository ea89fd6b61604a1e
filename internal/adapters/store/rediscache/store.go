// Package rediscache fronts a ReadingStore with a Redis copy of each
// sensor's latest batch, so the hot Latest lookup skips the database.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

const DefaultTTL = 24 * time.Hour

// ErrMiss is returned by Cache.Get for absent keys.
var ErrMiss = errors.New("cache miss")

// Cache holds one versioned value per key. Versions compare as strings.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// SetIfNewer stores val unless the entry already carries a higher
	// version. An equal version is replaced only when replaceEqual is set.
	SetIfNewer(ctx context.Context, key, version string, val []byte, replaceEqual bool, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// Store is write-through: Put drops the cached entry, writes the inner
// store, then repopulates. Every fill is versioned by CapturedAt, so a
// reader that fetched an older batch cannot overwrite the one Put cached.
type Store struct {
	inner ports.ReadingStore
	cache Cache
	ttl   time.Duration
	log   *slog.Logger
}

func New(inner ports.ReadingStore, cache Cache, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{inner: inner, cache: cache, ttl: ttl, log: logger}
}

func key(sensorID string) string { return "aarma:latest:" + sensorID }

// version orders batches by capture time as a fixed-width decimal string.
func version(b *domain.Batch) string {
	ns := b.CapturedAt.UnixNano()
	if b.CapturedAt.IsZero() || ns < 0 {
		ns = 0
	}
	return fmt.Sprintf("%020d", ns)
}

func (s *Store) Name() string { return s.inner.Name() + "+redis" }

func (s *Store) Latest(ctx context.Context, sensorID string) (*domain.Batch, error) {
	raw, err := s.cache.Get(ctx, key(sensorID))
	switch {
	case err == nil:
		var b domain.Batch
		if jerr := json.Unmarshal(raw, &b); jerr == nil {
			return &b, nil
		}
		s.log.Warn("latest cache entry unreadable", slog.String("sensor_id", sensorID))
	case !errors.Is(err, ErrMiss):
		s.log.Warn("latest cache get failed", slog.String("sensor_id", sensorID), slog.Any("err", err))
	}

	b, err := s.inner.Latest(ctx, sensorID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, b, false)
	return b, nil
}

func (s *Store) Put(ctx context.Context, b *domain.Batch) error {
	if err := s.cache.Del(ctx, key(b.SensorID)); err != nil {
		return fmt.Errorf("invalidate latest cache: %w", err)
	}
	if err := s.inner.Put(ctx, b); err != nil {
		return err
	}
	if !s.fill(ctx, b, true) {
		// a concurrent read fill may have landed after the Del above
		if err := s.cache.Del(ctx, key(b.SensorID)); err != nil {
			s.log.Warn("latest cache invalidate failed", slog.String("sensor_id", b.SensorID), slog.Any("err", err))
		}
	}
	return nil
}

// fill reports false only when the cache could not be written.
func (s *Store) fill(ctx context.Context, b *domain.Batch, fromPut bool) bool {
	raw, err := json.Marshal(b)
	if err == nil {
		var stored bool
		stored, err = s.cache.SetIfNewer(ctx, key(b.SensorID), version(b), raw, fromPut, s.ttl)
		if err == nil && !stored {
			s.log.Debug("latest cache kept newer entry", slog.String("sensor_id", b.SensorID), slog.String("batch_id", b.ID))
		}
	}
	if err != nil {
		s.log.Warn("latest cache set failed", slog.String("sensor_id", b.SensorID), slog.Any("err", err))
		return false
	}
	return true
}

// setIfNewer keeps each entry as a hash of {v, batch}. Versions are
// fixed-width so Lua string comparison orders them.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur then
  if cur > ARGV[1] or (cur == ARGV[1] and ARGV[4] == '0') then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'batch', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Dial connects and pings once.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.HGet(ctx, key, "batch").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return val, err
}

func (c *RedisCache) SetIfNewer(ctx context.Context, key, version string, val []byte, replaceEqual bool, ttl time.Duration) (bool, error) {
	eq := "0"
	if replaceEqual {
		eq = "1"
	}
	n, err := setIfNewer.Run(ctx, c.client, []string{key}, version, val, ttl.Milliseconds(), eq).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

var (
	_ ports.ReadingStore = (*Store)(nil)
	_ Cache              = (*RedisCache)(nil)
)
