package nodescan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheMaxEntries  = 1000
	defaultTotalStakeTTL    = 2 * time.Minute
	defaultStakeChangesTTL  = time.Minute
	defaultStakeHistoryTTL  = 5 * time.Minute
	defaultValidatorInfoTTL = 5 * time.Minute
	defaultEpochTTL         = 25 * time.Second
	defaultJanitorInterval  = time.Minute

	// loadTimeout bounds a shared load once it no longer follows its caller.
	loadTimeout = 45 * time.Second
)

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// ttlCache is a bounded LRU whose entries are valid for ttl after they were
// stored. Concurrent loads of the same key share one call.
type ttlCache[V any] struct {
	name    string
	ttl     time.Duration
	clock   clock.Clock
	metrics *Metrics

	mu    sync.Mutex
	store *lru.Cache[string, cacheEntry[V]]
	group singleflight.Group
}

func newTTLCache[V any](name string, maxEntries int, ttl time.Duration, clk clock.Clock, metrics *Metrics) *ttlCache[V] {
	if maxEntries <= 0 {
		maxEntries = defaultCacheMaxEntries
	}
	if clk == nil {
		clk = clock.New()
	}
	store, _ := lru.New[string, cacheEntry[V]](maxEntries)
	return &ttlCache[V]{
		name:    name,
		ttl:     ttl,
		clock:   clk,
		metrics: metrics,
		store:   store,
	}
}

// Get returns the stored entry while it is fresh.
func (c *ttlCache[V]) Get(key string) (cacheEntry[V], bool) {
	if c == nil || key == "" {
		return cacheEntry[V]{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.store.Get(key)
	if !ok {
		return cacheEntry[V]{}, false
	}
	if c.ttl > 0 && c.clock.Now().Sub(entry.storedAt) > c.ttl {
		c.store.Remove(key)
		return cacheEntry[V]{}, false
	}
	return entry, true
}

func (c *ttlCache[V]) Add(key string, value V) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	c.store.Add(key, cacheEntry[V]{value: value, storedAt: c.clock.Now()})
	c.mu.Unlock()
}

func (c *ttlCache[V]) Remove(key string) {
	if c == nil || key == "" {
		return
	}
	c.mu.Lock()
	c.store.Remove(key)
	c.mu.Unlock()
}

func (c *ttlCache[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Len()
}

// GetOrLoad returns the fresh cached value for key or calls load. The loaded
// value is stored only when load reports it as cacheable.
//
// Concurrent callers of the same key share one load. The load runs under a
// context detached from the caller that started it, bounded by
// loadTimeout, and each caller stops waiting when its own ctx is done.
func (c *ttlCache[V]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (V, bool, error)) (V, error) {
	if c == nil {
		value, _, err := load(ctx)
		return value, err
	}
	if entry, ok := c.Get(key); ok {
		c.metrics.cacheLookup(c.name, true)
		return entry.value, nil
	}
	c.metrics.cacheLookup(c.name, false)

	ch := c.group.DoChan(key, func() (any, error) {
		if entry, ok := c.Get(key); ok {
			return entry.value, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		value, cacheable, err := load(loadCtx)
		if err != nil {
			return value, err
		}
		if cacheable {
			c.Add(key, value)
		}
		return value, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		value, ok := res.Val.(V)
		if !ok && res.Val != nil {
			return zero, fmt.Errorf("cache %s: unexpected value type %T", c.name, res.Val)
		}
		return value, res.Err
	}
}

// PurgeExpired drops every entry older than the TTL.
func (c *ttlCache[V]) PurgeExpired() int {
	if c == nil || c.ttl <= 0 {
		return 0
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, key := range c.store.Keys() {
		entry, ok := c.store.Peek(key)
		if !ok {
			continue
		}
		if now.Sub(entry.storedAt) > c.ttl {
			c.store.Remove(key)
			removed++
		}
	}
	return removed
}

// purger is implemented by every ttlCache regardless of its value type.
type purger interface {
	PurgeExpired() int
}

// runJanitor purges expired entries from caches every interval until ctx is
// done.
func runJanitor(ctx context.Context, clk clock.Clock, interval time.Duration, caches ...purger) {
	if interval <= 0 || len(caches) == 0 {
		return
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, cache := range caches {
				cache.PurgeExpired()
			}
		}
	}
}
