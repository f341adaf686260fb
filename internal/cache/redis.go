// Package cache holds the Redis-backed cart cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-shop/internal/domain/cart"
)

const (
	// DefaultTTL is the base lifetime of a cached cart.
	DefaultTTL = 15 * time.Minute

	versionTTL = 24 * time.Hour
)

var _ cart.Cache = (*RedisCache)(nil)

// RedisCache caches cart line sets under "cart:{<user>}" next to a version
// counter under "cart:{<user>}:version". The hash tag keeps both keys in one
// cluster slot. Each entry lives for the base TTL plus up to a fifth of it,
// so entries written together do not expire together.
type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

// NewRedisCache creates a RedisCache. A non-positive ttl selects DefaultTTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, baseTTL: ttl}
}

// Version returns the user's invalidation counter. A missing counter is 0.
func (r *RedisCache) Version(ctx context.Context, userID string) (int64, error) {
	v, err := r.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return v, nil
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	data, err := r.client.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var c cart.Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &c, nil
}

// Set stores c when the user's version still equals version. The version
// key is watched, so a Delete racing with Set aborts the write.
func (r *RedisCache) Set(ctx context.Context, userID string, version int64, c *cart.Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	vkey := versionKey(userID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return cart.ErrCacheStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(userID), data, r.ttl())
			return nil
		})
		return err
	}, vkey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cart.ErrCacheStale), errors.Is(err, redis.TxFailedErr):
		return cart.ErrCacheStale
	default:
		return fmt.Errorf("redis set: %w", err)
	}
}

// Delete drops the entry and advances the version in one transaction.
func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), versionTTL)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (r *RedisCache) ttl() time.Duration {
	return r.baseTTL + rand.N(r.baseTTL/5+1)
}

func cacheKey(userID string) string {
	return "cart:{" + userID + "}"
}

func versionKey(userID string) string {
	return cacheKey(userID) + ":version"
}
