// Package cache provides a generic, time-bounded cache with single-flight
// fetching and explicit invalidation.
//
// Each Cache is one namespace. A miss starts at most one fetch per key;
// concurrent callers for the same key wait for that fetch and share its
// result, success or failure. Failures are never stored, so the next call
// after an upstream error fetches again.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is used when Options.TTL is zero.
	DefaultTTL = 60 * time.Second
	// DefaultSize is used when Options.Size is zero.
	DefaultSize = 1024
)

// FetchFunc loads the value for one key from the upstream source.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Observer receives cache events, typically to feed metrics.
type Observer interface {
	CacheHit(namespace string)
	CacheMiss(namespace string)
	CacheFetchError(namespace string)
}

// Options configures a Cache.
type Options struct {
	// TTL bounds how long a fetched value stays valid.
	TTL time.Duration
	// Size caps the number of entries; least recently used entries are evicted first.
	Size int
	// Observer is optional.
	Observer Observer
}

// Cache is a single cache namespace keyed by string.
// It is safe for concurrent use.
type Cache[V any] struct {
	name     string
	entries  *expirable.LRU[string, V]
	flights  singleflight.Group
	observer Observer

	// mu serializes stores against invalidation. A fetch stores its result
	// only if neither the epoch nor its key's generation moved while it
	// ran. Both are part of the flight key, so callers arriving after an
	// invalidation never join a flight started before it.
	mu      sync.Mutex
	epoch   uint64
	counter uint64
	keyGens map[string]uint64
}

// New creates a cache namespace.
func New[V any](name string, opts Options) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	return &Cache[V]{
		name:     name,
		entries:  expirable.NewLRU[string, V](opts.Size, nil, opts.TTL),
		observer: opts.Observer,
		keyGens:  make(map[string]uint64),
	}
}

// Name returns the namespace name.
func (c *Cache[V]) Name() string {
	return c.name
}

// Get returns the cached value for key, fetching it on a miss.
//
// The fetch runs detached from the caller's cancellation so that one
// impatient caller does not fail the flight for everyone else waiting on
// the same key. A caller whose own context ends returns ctx.Err().
func (c *Cache[V]) Get(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	if v, ok := c.entries.Get(key); ok {
		c.hit()
		return v, nil
	}
	c.miss()

	c.mu.Lock()
	epoch, gen := c.epoch, c.keyGens[key]
	c.mu.Unlock()
	flightKey := strconv.FormatUint(epoch, 10) + "/" + strconv.FormatUint(gen, 10) + "/" + key

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(flightKey, func() (any, error) {
		if v, ok := c.entries.Get(key); ok {
			return v, nil
		}
		v, err := fetch(fetchCtx)
		if err != nil {
			c.fetchError()
			return nil, err
		}
		c.mu.Lock()
		if c.epoch == epoch && c.keyGens[key] == gen {
			c.entries.Add(key, v)
		}
		c.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Peek returns a fresh cached value without fetching.
func (c *Cache[V]) Peek(key string) (V, bool) {
	return c.entries.Peek(key)
}

// Invalidate drops key. A fetch for key already in flight completes for
// its waiters but its result is not stored; later callers start a new one.
// Fetches for other keys are unaffected.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	c.counter++
	c.keyGens[key] = c.counter
	c.entries.Remove(key)
	c.mu.Unlock()
}

// Purge drops every entry in the namespace. Fetches in flight complete for
// their waiters without being stored; later callers start new ones.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	c.epoch++
	clear(c.keyGens)
	c.entries.Purge()
	c.mu.Unlock()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

func (c *Cache[V]) hit() {
	if c.observer != nil {
		c.observer.CacheHit(c.name)
	}
}

func (c *Cache[V]) miss() {
	if c.observer != nil {
		c.observer.CacheMiss(c.name)
	}
}

func (c *Cache[V]) fetchError() {
	if c.observer != nil {
		c.observer.CacheFetchError(c.name)
	}
}
