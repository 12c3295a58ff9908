package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artify-labs/artify/pkg/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetRecord(ctx context.Context, rec *models.Record, ttl time.Duration) error
	GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, bool, error)
	InvalidateRecord(ctx context.Context, id uuid.UUID) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// SetRecord stores a JSON snapshot of rec under RecordKey.
func (c *RedisCache) SetRecord(ctx context.Context, rec *models.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return c.client.Set(ctx, RecordKey(rec.ID), data, ttl).Err()
}

// GetRecord returns the cached snapshot. A snapshot that no longer decodes is
// treated as a miss.
func (c *RedisCache) GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, bool, error) {
	data, found, err := c.Get(ctx, RecordKey(id))
	if err != nil || !found {
		return nil, false, err
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (c *RedisCache) InvalidateRecord(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, RecordKey(id)).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
