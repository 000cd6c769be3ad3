package submitter

import (
	"context"
	"time"

	"github.com/yoockh/yoocall/internal/cache"
)

// Deduper is the local pre-send existence check. A session id is claimed
// before delivery and released again if delivery fails.
type Deduper interface {
	Claim(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// CacheDeduper claims ids with SET NX on a cache.Cache: Redis in production,
// the in-process LRU otherwise.
type CacheDeduper struct {
	c   cache.Cache
	ttl time.Duration
}

func NewCacheDeduper(c cache.Cache, ttl time.Duration) *CacheDeduper {
	return &CacheDeduper{c: c, ttl: ttl}
}

func dedupKey(sessionID string) string { return "submitted:" + sessionID }

func (d *CacheDeduper) Claim(ctx context.Context, sessionID string) (bool, error) {
	return d.c.SetNX(ctx, dedupKey(sessionID), time.Now().UTC(), d.ttl)
}

func (d *CacheDeduper) Release(ctx context.Context, sessionID string) error {
	return d.c.Del(ctx, dedupKey(sessionID))
}
