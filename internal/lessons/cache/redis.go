package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-lessons/internal/platform/logger"
)

// Redis stores JSON payloads under a key prefix with native key expiry. Capacity and LRU
// are left to the server's maxmemory policy; hit and miss counters are per process.
type Redis[T any] struct {
	log        *logger.Logger
	rdb        goredis.UniversalClient
	prefix     string
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// DialRedis connects and pings, failing fast when the server is unreachable.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewRedis[T any](log *logger.Logger, rdb goredis.UniversalClient, prefix string, defaultTTL time.Duration) (*Redis[T], error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultSlideTTL
	}
	return &Redis[T]{
		log:        log.With("service", "RedisCache", "prefix", prefix),
		rdb:        rdb,
		prefix:     prefix,
		defaultTTL: defaultTTL,
	}, nil
}

func (r *Redis[T]) key(k string) string { return r.prefix + k }

func (r *Redis[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	raw, err := r.rdb.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			r.log.Warn("redis get failed", "key", key, "error", err)
		}
		r.misses.Add(1)
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		r.log.Warn("redis payload decode failed; dropping entry", "key", key, "error", err)
		_ = r.rdb.Del(ctx, r.key(key)).Err()
		r.misses.Add(1)
		return zero, false
	}
	r.hits.Add(1)
	return v, true
}

func (r *Redis[T]) Set(ctx context.Context, key string, v T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache payload: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis[T]) Has(ctx context.Context, key string) bool {
	n, err := r.rdb.Exists(ctx, r.key(key)).Result()
	if err != nil {
		r.log.Warn("redis exists failed", "key", key, "error", err)
		return false
	}
	return n > 0
}

func (r *Redis[T]) Delete(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		r.log.Warn("redis del failed", "key", key, "error", err)
	}
}

// Stats counts keys under the prefix with SCAN; Evictions is always zero because the server
// does not report per-prefix evictions.
func (r *Redis[T]) Stats(ctx context.Context) Stats {
	hits, misses := r.hits.Load(), r.misses.Load()
	size := 0
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		r.log.Warn("redis scan failed", "error", err)
	}
	return Stats{
		Hits:    hits,
		Misses:  misses,
		Size:    size,
		HitRate: hitRate(hits, misses),
	}
}
