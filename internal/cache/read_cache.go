// Package cache holds the per-room cache of recently persisted chat messages.
package cache

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
)

const DefaultTTL = 5 * time.Second

// Loader fetches the most recent limit messages, oldest first.
type Loader func(ctx context.Context, limit int) ([]domain.Message, error)

type entry struct {
	messages []domain.Message
	limit    int
	cachedAt time.Time
}

// ReadCache keeps at most one entry. It belongs to a single room actor and
// is not safe for concurrent use.
type ReadCache struct {
	load  Loader
	ttl   time.Duration
	now   func() time.Time
	entry *entry
}

// Option customises a ReadCache.
type Option func(*ReadCache)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *ReadCache) { c.now = now }
}

func NewReadCache(load Loader, ttl time.Duration, opts ...Option) *ReadCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &ReadCache{
		load: load,
		ttl:  ttl,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRecent returns the cached messages when the entry is younger than the
// TTL and was loaded with the same limit. Otherwise it reloads and replaces
// the entry. A failed load leaves the cache empty.
func (c *ReadCache) GetRecent(ctx context.Context, limit int) ([]domain.Message, error) {
	now := c.now()
	if e := c.entry; e != nil && e.limit == limit && now.Sub(e.cachedAt) < c.ttl {
		return e.messages, nil
	}

	c.entry = nil
	messages, err := c.load(ctx, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}

	c.entry = &entry{messages: messages, limit: limit, cachedAt: now}
	return messages, nil
}

// Invalidate drops the entry so the next read hits the store.
func (c *ReadCache) Invalidate() {
	c.entry = nil
}

// Cached reports whether an entry is held, regardless of its age.
func (c *ReadCache) Cached() bool {
	return c.entry != nil
}
