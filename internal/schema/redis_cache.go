package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"

	"github.com/metatavu/metaform-replies/internal/model"
)

// RedisCache is a read-through schema cache. Form definitions change rarely
// and every submission needs one, so cached entries are served until the TTL
// expires. Cache failures fall back to the wrapped provider.
type RedisCache struct {
	client *redis.Client
	next   Provider
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache over the given provider from a redis URL.
func NewRedisCache(redisURL string, next Provider, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, next, ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing redis client.
func NewRedisCacheWithClient(client *redis.Client, next Provider, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: client, next: next, prefix: "schema:", ttl: ttl}
}

// Close releases the redis client.
func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) key(formID uuid.UUID) string { return c.prefix + formID.String() }

// FormSchema returns the cached schema, loading and caching it on a miss.
func (c *RedisCache) FormSchema(ctx context.Context, formID uuid.UUID) (*model.Schema, error) {
	raw, err := c.client.Get(ctx, c.key(formID)).Bytes()
	if err == nil {
		var cached model.Schema
		if unmarshalErr := json.Unmarshal(raw, &cached); unmarshalErr == nil {
			return &cached, nil
		}
		// Unreadable entry: drop it and reload.
		_ = c.client.Del(ctx, c.key(formID)).Err()
	} else if !errors.Is(err, redis.Nil) {
		return c.next.FormSchema(ctx, formID)
	}

	loaded, err := c.next.FormSchema(ctx, formID)
	if err != nil {
		return nil, err
	}
	if encoded, marshalErr := json.Marshal(loaded); marshalErr == nil {
		_ = c.client.Set(ctx, c.key(formID), encoded, c.ttl).Err()
	}
	return loaded, nil
}

// Invalidate drops the cached schema of one form, used when the form
// management collaborator reports a definition change.
func (c *RedisCache) Invalidate(ctx context.Context, formID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(formID)).Err(); err != nil {
		return fmt.Errorf("invalidate schema cache: %w", err)
	}
	return nil
}
