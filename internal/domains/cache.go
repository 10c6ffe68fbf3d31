package domains

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type entry struct {
	avail bool
	exp   time.Time
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	mu  sync.Mutex
	m   map[string]entry
	now func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string]entry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, name string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[name]
	if !ok {
		return false, false, nil
	}
	if c.now().After(e.exp) {
		delete(c.m, name)
		return false, false, nil
	}
	return e.avail, true, nil
}

func (c *MemoryCache) Set(_ context.Context, name string, avail bool, ttl time.Duration) error {
	c.mu.Lock()
	c.m[name] = entry{avail: avail, exp: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

const redisPrefix = "domain:avail:"

// RedisCache shares answers between replicas.
type RedisCache struct{ cli redis.UniversalClient }

func NewRedisCache(cli redis.UniversalClient) *RedisCache { return &RedisCache{cli: cli} }

func (c *RedisCache) Get(ctx context.Context, name string) (bool, bool, error) {
	v, err := c.cli.Get(ctx, redisPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return v == "1", true, nil
}

func (c *RedisCache) Set(ctx context.Context, name string, avail bool, ttl time.Duration) error {
	v := "0"
	if avail {
		v = "1"
	}
	return c.cli.Set(ctx, redisPrefix+name, v, ttl).Err()
}
