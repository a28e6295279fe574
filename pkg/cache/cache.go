// Package cache is an in-process TTL cache with least-recently-used
// eviction, shared by the service list cache and the client query cache.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// EvictReason tells an eviction callback why a key left the cache
type EvictReason string

const (
	EvictExpired  EvictReason = "expired"
	EvictCapacity EvictReason = "capacity"
	EvictDeleted  EvictReason = "deleted"
)

// Options configures a Cache
type Options struct {
	// DefaultExpiration applies to Set; zero means items never expire
	DefaultExpiration time.Duration
	// CleanupInterval controls the janitor; zero disables it
	CleanupInterval time.Duration
	// MaxItems bounds the cache; zero means unbounded
	MaxItems int
}

type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Items     int
}

type item[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

func (it *item[V]) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Cache is safe for concurrent use. Reads refresh recency, so MaxItems
// evicts the entry untouched for longest.
type Cache[V any] struct {
	opts Options
	now  func() time.Time

	mu        sync.Mutex
	items     map[string]*list.Element
	lru       *list.List
	onEvicted func(key string, value V, reason EvictReason)
	hits      uint64
	misses    uint64
	evictions uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its janitor when a cleanup interval is set
func New[V any](opts Options) *Cache[V] {
	c := &Cache[V]{
		opts:  opts,
		now:   time.Now,
		items: make(map[string]*list.Element),
		lru:   list.New(),
		stop:  make(chan struct{}),
	}
	if opts.CleanupInterval > 0 {
		go c.janitor(opts.CleanupInterval)
	}
	return c
}

// Set stores value under key with the default expiration
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithExpiration(key, value, c.opts.DefaultExpiration)
}

func (c *Cache[V]) SetWithExpiration(key string, value V, d time.Duration) {
	var expiresAt time.Time
	if d > 0 {
		expiresAt = c.now().Add(d)
	}

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		it := el.Value.(*item[V])
		it.value = value
		it.expiresAt = expiresAt
		c.lru.MoveToFront(el)
		c.mu.Unlock()
		return
	}

	c.items[key] = c.lru.PushFront(&item[V]{key: key, value: value, expiresAt: expiresAt})
	var evicted []*item[V]
	for c.opts.MaxItems > 0 && c.lru.Len() > c.opts.MaxItems {
		evicted = append(evicted, c.removeLocked(c.lru.Back()))
	}
	c.mu.Unlock()

	c.fire(evicted, EvictCapacity)
}

// Get returns the value of key. Expired entries read as missing.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok || el.Value.(*item[V]).expired(c.now()) {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.lru.MoveToFront(el)
	return el.Value.(*item[V]).value, true
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	el, ok := c.items[key]
	var removed []*item[V]
	if ok {
		removed = append(removed, c.removeLocked(el))
	}
	c.mu.Unlock()

	c.fire(removed, EvictDeleted)
}

// Flush removes every entry
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	removed := make([]*item[V], 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		removed = append(removed, el.Value.(*item[V]))
	}
	c.items = make(map[string]*list.Element)
	c.lru.Init()
	c.mu.Unlock()

	c.fire(removed, EvictDeleted)
}

// Count returns the number of entries, including expired ones the janitor
// has not collected yet.
func (c *Cache[V]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Items: c.lru.Len()}
}

// SetOnEvicted registers f; it runs outside the lock
func (c *Cache[V]) SetOnEvicted(f func(key string, value V, reason EvictReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvicted = f
}

// Close stops the janitor goroutine. The cache stays usable.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache[V]) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}

// DeleteExpired collects expired entries now
func (c *Cache[V]) DeleteExpired() {
	now := c.now()
	c.mu.Lock()
	var removed []*item[V]
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*item[V]).expired(now) {
			removed = append(removed, c.removeLocked(el))
		}
		el = prev
	}
	c.mu.Unlock()

	c.fire(removed, EvictExpired)
}

func (c *Cache[V]) removeLocked(el *list.Element) *item[V] {
	it := c.lru.Remove(el).(*item[V])
	delete(c.items, it.key)
	c.evictions++
	return it
}

func (c *Cache[V]) fire(items []*item[V], reason EvictReason) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	f := c.onEvicted
	c.mu.Unlock()
	if f == nil {
		return
	}
	for _, it := range items {
		f(it.key, it.value, reason)
	}
}
