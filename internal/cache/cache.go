// Package cache provides a bounded, concurrency-safe TTL cache with
// least-recently-used eviction and hit/miss accounting.
package cache

import (
	"container/list"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultMaxSize = 10000
	DefaultTTL     = 300 * time.Second
)

// Event is reported to Options.OnEvent for metrics.
type Event string

const (
	EventHit    Event = "hit"
	EventMiss   Event = "miss"
	EventEvict  Event = "evict"
	EventExpire Event = "expire"
)

// Options configures a Cache.
type Options struct {
	// Name labels events, e.g. "agent_tier".
	Name string
	// MaxSize bounds the number of entries. Zero means DefaultMaxSize.
	MaxSize int
	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL time.Duration
	// OnEvent, if set, is called outside the lock for every event.
	OnEvent func(name string, ev Event)
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// stripes partitions per-key invalidation generations.
const stripes = 256

// Gen is an invalidation snapshot taken before a backing-store read.
// See SetIfCurrent.
type Gen struct {
	all uint64
	key uint64
}

// Cache is a TTL+LRU map. Readers share a lock; the recency list has its
// own small lock so hits never block each other on the map.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]*list.Element
	lruMu   sync.Mutex
	order   *list.List // front = most recently used
	maxSize int
	ttl     time.Duration
	name    string
	onEvent func(string, Event)
	now     func() time.Time

	// epoch moves on DeleteFunc and Clear; gens[i] on Delete of a key in
	// stripe i. Both only change under mu.
	seed  maphash.Seed
	epoch atomic.Uint64
	gens  [stripes]atomic.Uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New creates a cache with the given options.
func New[K comparable, V any](opts Options) *Cache[K, V] {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache[K, V]{
		items:   make(map[K]*list.Element),
		order:   list.New(),
		seed:    maphash.MakeSeed(),
		maxSize: opts.MaxSize,
		ttl:     opts.DefaultTTL,
		name:    opts.Name,
		onEvent: opts.OnEvent,
		now:     opts.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	now := c.now()

	var e *entry[K, V]
	c.mu.RLock()
	el, ok := c.items[key]
	if ok {
		e = el.Value.(*entry[K, V])
		ok = now.Before(e.expiresAt)
	}
	if ok {
		c.lruMu.Lock()
		c.order.MoveToFront(el)
		c.lruMu.Unlock()
	}
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		c.emit(EventMiss)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	c.emit(EventHit)
	return e.value, true
}

// Set stores value under key. ttl <= 0 uses the default TTL.
// Set always succeeds; it evicts the least recently used entry when full.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	evicted, expired := c.setLocked(key, value, ttl)
	c.mu.Unlock()
	c.emitEvictions(evicted, expired)
}

// Generation snapshots the invalidation state for key. Take it before
// reading the backing store and hand it to SetIfCurrent afterwards.
func (c *Cache[K, V]) Generation(key K) Gen {
	return Gen{all: c.epoch.Load(), key: c.gens[c.stripe(key)].Load()}
}

// SetIfCurrent stores value only if key has not been invalidated by Delete,
// DeleteFunc or Clear since gen was taken, and reports whether it did.
// A fill racing an invalidation is dropped instead of caching stale data.
func (c *Cache[K, V]) SetIfCurrent(key K, value V, ttl time.Duration, gen Gen) bool {
	c.mu.Lock()
	if c.Generation(key) != gen {
		c.mu.Unlock()
		return false
	}
	evicted, expired := c.setLocked(key, value, ttl)
	c.mu.Unlock()
	c.emitEvictions(evicted, expired)
	return true
}

func (c *Cache[K, V]) setLocked(key K, value V, ttl time.Duration) (evicted, expired int) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	e := &entry[K, V]{key: key, value: value, expiresAt: now.Add(ttl)}

	if el, ok := c.items[key]; ok {
		el.Value = e
		c.order.MoveToFront(el)
		return 0, 0
	}
	for len(c.items) >= c.maxSize {
		back := c.order.Back()
		old := back.Value.(*entry[K, V])
		c.order.Remove(back)
		delete(c.items, old.key)
		if now.Before(old.expiresAt) {
			evicted++
		} else {
			expired++
		}
	}
	c.items[key] = c.order.PushFront(e)
	return evicted, expired
}

// Delete removes key and invalidates in-flight fills for it. Missing keys
// leave the contents unchanged. Returns whether anything was removed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[c.stripe(key)].Add(1)
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// DeleteFunc removes every entry whose key satisfies match and
// returns how many were removed. Every in-flight fill is invalidated.
func (c *Cache[K, V]) DeleteFunc(match func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch.Add(1)
	n := 0
	for k, el := range c.items {
		if match(k) {
			c.order.Remove(el)
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Clear drops every entry. Counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.epoch.Add(1)
	c.items = make(map[K]*list.Element)
	c.order.Init()
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns size and hit/miss counters.
func (c *Cache[K, V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size:    c.Len(),
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: rate,
	}
}

func (c *Cache[K, V]) stripe(key K) int {
	return int(maphash.Comparable(c.seed, key) % stripes)
}

func (c *Cache[K, V]) emitEvictions(evicted, expired int) {
	for i := 0; i < expired; i++ {
		c.emit(EventExpire)
	}
	for i := 0; i < evicted; i++ {
		c.emit(EventEvict)
	}
}

func (c *Cache[K, V]) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(c.name, ev)
	}
}
