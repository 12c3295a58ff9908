// Package mock provides an in-memory cache.Cache for tests.
package mock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/artify-labs/artify/internal/cache"
	"github.com/artify-labs/artify/pkg/models"
	"github.com/google/uuid"
)

// MemCache ignores TTLs. Err, when set, is returned by every method.
type MemCache struct {
	mu       sync.Mutex
	values   map[string][]byte
	counters map[string]int64

	Err error
}

func New() *MemCache {
	return &MemCache{values: make(map[string][]byte), counters: make(map[string]int64)}
}

func (c *MemCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.values[key] = append([]byte(nil), value...)
	return nil
}

func (c *MemCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *MemCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	delete(c.values, key)
	return nil
}

func (c *MemCache) Ping(_ context.Context) error { return c.Err }

func (c *MemCache) SetRecord(ctx context.Context, rec *models.Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.Set(ctx, cache.RecordKey(rec.ID), data, ttl)
}

func (c *MemCache) GetRecord(ctx context.Context, id uuid.UUID) (*models.Record, bool, error) {
	data, ok, err := c.Get(ctx, cache.RecordKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (c *MemCache) InvalidateRecord(ctx context.Context, id uuid.UUID) error {
	return c.Delete(ctx, cache.RecordKey(id))
}

// HasRecord reports whether a snapshot of id is cached.
func (c *MemCache) HasRecord(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[cache.RecordKey(id)]
	return ok
}

func (c *MemCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*MemCache)(nil)
