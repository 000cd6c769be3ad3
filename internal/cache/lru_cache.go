package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type lruEntry struct {
	data      []byte
	expiresAt time.Time // zero = no expiry
}

// LRUCache is the in-process Cache used when Redis is not configured and as the
// first tier in front of Redis.
type LRUCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, lruEntry]
	now func() time.Time
}

func NewLRUCache(size int) (*LRUCache, error) {
	if size <= 0 {
		size = 128
	}
	l, err := lru.New[string, lruEntry](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{lru: l, now: time.Now}, nil
}

func (c *LRUCache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	e, ok := c.live(key)
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		c.lru.Remove(key)
		return false, nil
	}
	return true, nil
}

func (c *LRUCache) SetJSON(_ context.Context, key string, val any, ttl time.Duration) error {
	e, err := c.entry(val, ttl)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lru.Add(key, e)
	c.mu.Unlock()
	return nil
}

func (c *LRUCache) SetNX(_ context.Context, key string, val any, ttl time.Duration) (bool, error) {
	e, err := c.entry(val, ttl)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.lru.Add(key, e)
	return true, nil
}

func (c *LRUCache) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.lru.Remove(k)
	}
	return nil
}

func (c *LRUCache) Len() int { return c.lru.Len() }

// live must be called with mu held.
func (c *LRUCache) live(key string) (lruEntry, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return lruEntry{}, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return lruEntry{}, false
	}
	return e, true
}

func (c *LRUCache) entry(val any, ttl time.Duration) (lruEntry, error) {
	b, err := json.Marshal(val)
	if err != nil {
		return lruEntry{}, err
	}
	e := lruEntry{data: b}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	return e, nil
}

// Tiered reads through l1 then l2 and writes to both. Errors from l2 are
// returned but l1 is always updated.
type Tiered struct {
	L1 Cache
	L2 Cache
}

func (t Tiered) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if hit, _ := t.L1.GetJSON(ctx, key, dst); hit {
		return true, nil
	}
	if t.L2 == nil {
		return false, nil
	}
	hit, err := t.L2.GetJSON(ctx, key, dst)
	if err != nil || !hit {
		return false, err
	}
	_ = t.L1.SetJSON(ctx, key, dst, 0)
	return true, nil
}

func (t Tiered) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	_ = t.L1.SetJSON(ctx, key, val, ttl)
	if t.L2 == nil {
		return nil
	}
	return t.L2.SetJSON(ctx, key, val, ttl)
}

// SetNX is decided by l2 when present, since l1 is per process.
func (t Tiered) SetNX(ctx context.Context, key string, val any, ttl time.Duration) (bool, error) {
	if t.L2 == nil {
		return t.L1.SetNX(ctx, key, val, ttl)
	}
	ok, err := t.L2.SetNX(ctx, key, val, ttl)
	if err == nil {
		_ = t.L1.SetJSON(ctx, key, val, ttl)
	}
	return ok, err
}

func (t Tiered) Del(ctx context.Context, keys ...string) error {
	_ = t.L1.Del(ctx, keys...)
	if t.L2 == nil {
		return nil
	}
	return t.L2.Del(ctx, keys...)
}
