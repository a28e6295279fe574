// Package querycache is the client-side query cache. Invalidation only marks
// an entry stale; the next Get refetches it.
package querycache

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"actionit/backend/pkg/cache"
	"actionit/backend/shared/observability"

	"golang.org/x/sync/singleflight"
)

// Key identifies a cached query, e.g. {"messages", "conv-1"}
type Key struct {
	Kind string
	ID   string
}

// MessagesKey is the key of a conversation's message list
func MessagesKey(conversationID string) Key {
	return Key{Kind: "messages", ID: conversationID}
}

func (k Key) String() string {
	return k.Kind + ":" + k.ID
}

// FetchFunc loads the value of a key from its source
type FetchFunc func(ctx context.Context) (any, error)

type entry struct {
	value any
	gen   uint64
}

type Stats struct {
	Invalidations uint64
	Fetches       uint64
	Hits          uint64
}

// DefaultFetchTimeout bounds a shared fetch once it no longer follows the
// context of the reader that started it.
const DefaultFetchTimeout = 30 * time.Second

type Cache struct {
	entries *cache.Cache[entry]
	group   singleflight.Group

	fetchTimeout time.Duration

	mu     sync.Mutex
	gens   map[string]uint64
	marked map[string]int

	invalidations atomic.Uint64
	fetches       atomic.Uint64
	hits          atomic.Uint64
}

// New creates a cache whose entries also expire after ttl (zero keeps them
// until invalidated).
func New(ttl, cleanup time.Duration, maxItems int) *Cache {
	return &Cache{
		entries: cache.New[entry](cache.Options{
			DefaultExpiration: ttl,
			CleanupInterval:   cleanup,
			MaxItems:          maxItems,
		}),
		fetchTimeout: DefaultFetchTimeout,
		gens:         make(map[string]uint64),
		marked:       make(map[string]int),
	}
}

// SetFetchTimeout changes the bound on shared fetches; zero or less restores
// DefaultFetchTimeout.
func (c *Cache) SetFetchTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultFetchTimeout
	}
	c.fetchTimeout = d
}

// Invalidate marks key stale. Repeated calls before the next read still
// cause a single refetch.
func (c *Cache) Invalidate(key Key) {
	k := key.String()
	c.mu.Lock()
	c.gens[k]++
	c.marked[k]++
	c.mu.Unlock()

	c.invalidations.Add(1)
	observability.CacheInvalidations.WithLabelValues("client_query").Inc()
}

// Get returns the cached value of key, calling fetch when the entry is stale
// or missing. Concurrent callers reading the same generation of key share one
// fetch; a read issued after Invalidate never joins a fetch that began before
// it. The shared fetch outlives a reader that gives up, bounded by the fetch
// timeout, so one cancelled reader does not fail the others.
func (c *Cache) Get(ctx context.Context, key Key, fetch FetchFunc) (any, error) {
	k := key.String()

	c.mu.Lock()
	gen := c.gens[k]
	c.mu.Unlock()

	if e, ok := c.entries.Get(k); ok && e.gen == gen {
		c.hits.Add(1)
		return e.value, nil
	}

	flight := c.group.DoChan(k+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		c.fetches.Add(1)
		observability.CacheFetches.WithLabelValues("client_query").Inc()

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		value, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.remember(k, gen, value)
		return value, nil
	})

	select {
	case res := <-flight:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// remember keeps value only while gen is still current. A fetch overtaken by an
// invalidation returns its result to its own readers but never caches it.
func (c *Cache) remember(k string, gen uint64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[k] != gen {
		return
	}
	c.entries.Set(k, entry{value: value, gen: gen})
}

// Stale reports whether the next Get for key will refetch
func (c *Cache) Stale(key Key) bool {
	k := key.String()
	c.mu.Lock()
	gen := c.gens[k]
	c.mu.Unlock()

	e, ok := c.entries.Get(k)
	return !ok || e.gen != gen
}

// Invalidations returns how many times key was invalidated
func (c *Cache) Invalidations(key Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marked[key.String()]
}

// Remove drops key entirely
func (c *Cache) Remove(key Key) {
	c.entries.Delete(key.String())
}

func (c *Cache) Stats() Stats {
	return Stats{
		Invalidations: c.invalidations.Load(),
		Fetches:       c.fetches.Load(),
		Hits:          c.hits.Load(),
	}
}

// Close stops the expiry janitor
func (c *Cache) Close() {
	c.entries.Close()
}
