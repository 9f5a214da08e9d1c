// Package cache keeps serialized fit snapshots in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sawpanic/timmatch/internal/config"
)

// DefaultPrefix namespaces snapshot keys.
const DefaultPrefix = "timmatch:fit:"

// RedisCache implements persistence.Cache.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// Connect dials Redis and checks the connection.
func Connect(ctx context.Context, cfg config.CacheConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisCache(client, cfg.Prefix), nil
}

// NewRedisCache wraps a client. An empty prefix uses DefaultPrefix.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(id string) string { return c.prefix + id }

// Get returns the cached snapshot; a missing key is not an error.
func (c *RedisCache) Get(ctx context.Context, id string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", id, err)
	}
	return data, true, nil
}

// Set stores a snapshot; ttl 0 keeps it forever.
func (c *RedisCache) Set(ctx context.Context, id string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(id), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", id, err)
	}
	return nil
}

// Delete evicts a snapshot.
func (c *RedisCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", id, err)
	}
	return nil
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
