// Package cache stores image metrics keyed by content hash and analyzer
// settings so unchanged files are not re-analysed across audit runs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/tgforge/internal/quality"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "tgforge:metrics:"

// Cache is an analysis cache. A miss returns ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (quality.Metrics, bool, error)
	Set(ctx context.Context, key string, metrics quality.Metrics) error
	Close() error
}

// Key combines a content ID with the analyzer fingerprint.
func Key(contentID string, analyzer *quality.Analyzer) string {
	return contentID + ":" + analyzer.Fingerprint()
}

// NewCache builds the cache for the configured type ("", "none" or "redis").
func NewCache(cacheType, address string, ttl time.Duration) (Cache, error) {
	switch cacheType {
	case "", "none":
		return NoopCache{}, nil
	case "redis":
		return NewRedisCache(address, ttl)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cacheType)
	}
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (quality.Metrics, bool, error) {
	return quality.Metrics{}, false, nil
}

func (NoopCache) Set(context.Context, string, quality.Metrics) error { return nil }

func (NoopCache) Close() error { return nil }

// RedisCache keeps JSON encoded metrics in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to address (host:port) and verifies the connection.
func NewRedisCache(address string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: address})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", address, err)
	}

	slog.Info("analysis cache connected", "type", "redis", "address", address, "ttl", ttl)
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (quality.Metrics, bool, error) {
	var m quality.Metrics
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return m, false, nil
	}
	if err != nil {
		return m, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		// a corrupt entry behaves like a miss and is overwritten on the next Set
		slog.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return quality.Metrics{}, false, nil
	}
	return m, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, metrics quality.Metrics) error {
	raw, err := json.Marshal(metrics)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
