package cache

import (
	"context"
	"sync"
	"time"

	redis "github.com/go-redis/redis/v8"
)

// TTLCache is the debounce backing store. SetIfAbsent must be atomic:
// two concurrent calls for the same key may see at most one true.
type TTLCache interface {
	// SetIfAbsent marks key for ttl and reports whether this call created
	// the marker (true) or the key was already present (false).
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type memoryEntry struct {
	exp time.Time
}

// Memory is an in-process TTLCache for tests and single-node deployments.
type Memory struct {
	mu  sync.Mutex
	m   map[string]memoryEntry
	now func() time.Time
}

// NewMemory creates an in-process cache.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]memoryEntry), now: time.Now}
}

// NewMemoryWithClock creates an in-process cache with an injected clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{m: make(map[string]memoryEntry), now: now}
}

func (c *Memory) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.m[key]; ok && now.Before(e.exp) {
		return false, nil
	}
	c.m[key] = memoryEntry{exp: now.Add(ttl)}
	return true, nil
}

// Redis is a shared TTLCache backed by redis SET NX, for deployments where
// detections for the same symbol can land on different nodes.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (c *Redis) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, "1", ttl).Result()
}
