package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCache shares quotes between gateway instances through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps a Redis client as a quote cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "pricing:quote:"}
}

func (c *RedisCache) Get(ctx context.Context, token string) (Quote, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, fmt.Errorf("redis get: %w", err)
	}

	var quote Quote
	if err := json.Unmarshal(raw, &quote); err != nil {
		return Quote{}, false, fmt.Errorf("decode cached quote: %w", err)
	}
	return quote, true, nil
}

func (c *RedisCache) Set(ctx context.Context, quote Quote, ttl time.Duration) error {
	raw, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}
	// Keep the entry past its freshness window so stale fallback works when
	// the upstream price API is down.
	if err := c.client.Set(ctx, c.prefix+quote.Token, raw, 10*ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
