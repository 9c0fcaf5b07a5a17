package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skylens/chipquery/internal/metrics"
)

// QueryCache is a thread-safe TTL+LRU cache keyed by string. Entries are
// immutable once inserted: a miss triggers a fresh computation, never an
// in-place patch. The mutex guards bookkeeping only and is never held
// across a computation.
type QueryCache[V any] struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	items     map[string]*list.Element
	evictList *list.List
	group     singleflight.Group
	name      string

	now func() time.Time
}

type cacheItem[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// New creates a QueryCache with the given capacity and TTL. The name
// labels this cache instance in metrics.
func New[V any](name string, capacity int, ttl time.Duration) *QueryCache[V] {
	return &QueryCache[V]{
		capacity:  capacity,
		ttl:       ttl,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		name:      name,
		now:       time.Now,
	}
}

// Get retrieves a value if present and not past its TTL. Expired entries
// are treated as misses and removed lazily.
func (c *QueryCache[V]) Get(key string) (V, bool) {
	v, ok := c.lookup(key)
	if ok {
		metrics.QueryCacheOpsTotal.WithLabelValues(c.name, "hit").Inc()
	} else {
		metrics.QueryCacheOpsTotal.WithLabelValues(c.name, "miss").Inc()
	}
	return v, ok
}

// lookup is Get without the hit/miss accounting, for internal re-checks
// that are part of an already-counted access.
func (c *QueryCache[V]) lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		item := ent.Value.(*cacheItem[V])
		if c.now().After(item.expiresAt) {
			c.removeElement(ent)
			var zero V
			return zero, false
		}
		c.evictList.MoveToFront(ent)
		return item.value, true
	}

	var zero V
	return zero, false
}

// Put inserts or refreshes a value with a fresh expiry.
func (c *QueryCache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		item := ent.Value.(*cacheItem[V])
		item.value = value
		item.expiresAt = c.now().Add(c.ttl)
		return
	}

	item := &cacheItem[V]{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
	ent := c.evictList.PushFront(item)
	c.items[key] = ent
	metrics.QueryCacheSize.WithLabelValues(c.name).Set(float64(c.evictList.Len()))

	if c.capacity > 0 && c.evictList.Len() > c.capacity {
		c.evictOldest()
	}
}

// GetOrCompute returns the cached value for key, computing it at most once
// across concurrent callers. All callers for a missing key share one
// in-flight computation and receive its result. A failed computation
// caches nothing, so the next caller retries.
//
// The computation runs detached from any single caller's cancellation:
// if this caller abandons the request, the in-flight computation still
// completes and populates the cache for other waiters. The abandoning
// caller gets its context error.
func (c *QueryCache[V]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A concurrent winner may have populated the entry between our
		// miss and this flight starting. Unmetered: the caller's Get
		// already counted this access.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := compute(detached)
		if err != nil {
			return nil, err
		}
		c.Put(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Len returns the number of resident entries, expired or not.
func (c *QueryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Clear purges the cache.
func (c *QueryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictList.Init()
	c.items = make(map[string]*list.Element)
	metrics.QueryCacheSize.WithLabelValues(c.name).Set(0)
}

func (c *QueryCache[V]) evictOldest() {
	ent := c.evictList.Back()
	if ent != nil {
		c.removeElement(ent)
		metrics.QueryCacheEvictionsTotal.WithLabelValues(c.name).Inc()
	}
}

func (c *QueryCache[V]) removeElement(ent *list.Element) {
	c.evictList.Remove(ent)
	item := ent.Value.(*cacheItem[V])
	delete(c.items, item.key)
	metrics.QueryCacheSize.WithLabelValues(c.name).Set(float64(c.evictList.Len()))
}
