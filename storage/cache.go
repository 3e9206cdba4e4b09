package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// Cache wraps a board store with a Redis read-through cache.
type Cache struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

// Load serves the board from Redis when possible and falls back to the base store.
func (c *Cache) Load(ctx context.Context, key domain.BoardKey) (domain.Board, error) {
	if b, ok := c.loadFromCache(ctx, key); ok {
		return b, nil
	}
	b, err := c.base.Load(ctx, key)
	if err != nil {
		return domain.Board{}, err
	}
	c.store(ctx, b)
	return b, nil
}

// Save writes through to the base store and then refreshes the cached copy.
func (c *Cache) Save(ctx context.Context, b domain.Board) error {
	if err := c.base.Save(ctx, b); err != nil {
		c.Evict(ctx, b.Key())
		return err
	}
	c.store(ctx, b)
	return nil
}

// Create creates the board in the base store and drops any stale cache entry.
func (c *Cache) Create(ctx context.Context, b domain.Board) error {
	if err := c.base.Create(ctx, b); err != nil {
		return err
	}
	c.Evict(ctx, b.Key())
	return nil
}

// Evict removes the cached copy of a board.
func (c *Cache) Evict(ctx context.Context, key domain.BoardKey) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, cacheKey(key)).Err()
}

func (c *Cache) loadFromCache(ctx context.Context, key domain.BoardKey) (domain.Board, bool) {
	if c.redis == nil || c.ttl == 0 {
		return domain.Board{}, false
	}
	data, err := c.redis.Get(ctx, cacheKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, cacheKey(key)).Err()
		}
		return domain.Board{}, false
	}
	b, err := decodeBoard(key, data)
	if err != nil {
		_ = c.redis.Del(ctx, cacheKey(key)).Err()
		return domain.Board{}, false
	}
	return b, true
}

func (c *Cache) store(ctx context.Context, b domain.Board) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := encodeBoard(b)
	if err != nil {
		c.Evict(ctx, b.Key())
		return
	}
	if err := c.redis.Set(ctx, cacheKey(b.Key()), data, c.ttl).Err(); err != nil {
		c.Evict(ctx, b.Key())
	}
}

func cacheKey(key domain.BoardKey) string {
	return redisKey("boardcache", key)
}
