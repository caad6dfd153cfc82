// Package cache provides a small in-process read-through cache for
// promotion codes. Evaluate traffic is read-heavy and tolerates slightly
// stale rules; Redeem bypasses the cache entirely.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/edulane/promo-engine/internal/domain/promo"
)

type entry struct {
	code    *promo.Code
	expires time.Time
}

// CodeCache wraps a promo.CodeReader with a TTL map keyed by normalized
// code. Only successful lookups are cached; misses and errors always go
// to the source so a freshly created code is visible immediately.
type CodeCache struct {
	source promo.CodeReader
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	store map[string]entry
}

var _ promo.CodeReader = (*CodeCache)(nil)

// New creates a CodeCache over source. A non-positive ttl disables
// caching and every read hits the source.
func New(source promo.CodeReader, ttl time.Duration) *CodeCache {
	return &CodeCache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		store:  make(map[string]entry),
	}
}

// FindByCode returns the cached code when present and fresh, otherwise
// reads through to the source and caches the result.
func (c *CodeCache) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	key := promo.Normalize(code)

	if c.ttl > 0 {
		c.mu.RLock()
		e, ok := c.store[key]
		c.mu.RUnlock()
		if ok && c.now().Before(e.expires) {
			return e.code, nil
		}
	}

	found, err := c.source.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		c.mu.Lock()
		c.store[key] = entry{code: found, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
	}
	return found, nil
}

// Invalidate drops the cached entry for code, if any. Called after a
// code is created or edited so the change takes effect without waiting
// out the TTL.
func (c *CodeCache) Invalidate(code string) {
	c.mu.Lock()
	delete(c.store, promo.Normalize(code))
	c.mu.Unlock()
}
