// ABOUTME: TTL and size bounded cache of seen activity IDs
// ABOUTME: Expiry runs on a clock timer so tests can drive it with a fake clock

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/coven-router/internal/clock"
)

const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10000
)

// cacheEntry stores when a key was seen and its position in the eviction order.
type cacheEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Params configures a Cache. Zero values take the defaults.
type Params struct {
	TTL     time.Duration
	MaxSize int
	// CleanupInterval defaults to TTL.
	CleanupInterval time.Duration
	Clock           clock.Clock
}

// Cache is a thread-safe, TTL-based, size-limited set of seen keys.
// Keys are evicted oldest first once MaxSize is reached.
type Cache struct {
	mu       sync.Mutex
	seen     map[string]*cacheEntry
	order    *list.List // oldest at front
	ttl      time.Duration
	maxSize  int
	interval time.Duration
	clock    clock.Clock
	timer    *clock.Timer
	closed   bool
}

// New creates a cache and schedules periodic removal of expired keys.
func New(p Params) *Cache {
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	if p.MaxSize <= 0 {
		p.MaxSize = DefaultMaxSize
	}
	if p.CleanupInterval <= 0 {
		p.CleanupInterval = p.TTL
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}

	c := &Cache{
		seen:     make(map[string]*cacheEntry),
		order:    list.New(),
		ttl:      p.TTL,
		maxSize:  p.MaxSize,
		interval: p.CleanupInterval,
		clock:    p.Clock,
	}
	c.timer = c.clock.AfterFunc(c.interval, c.cleanup)
	return c
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// CheckAndMark reports whether key is a duplicate and marks it if it is not.
// The check and the mark happen under one lock so concurrent deliveries of
// the same ID cannot both pass.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// Forget unmarks key so a later redelivery is accepted. The transport uses
// it when routing was refused after the key was marked.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of keys held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) liveLocked(key string) bool {
	entry, ok := c.seen[key]
	return ok && c.clock.Now().Sub(entry.seenAt) < c.ttl
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string) {
	now := c.clock.Now()

	if entry, exists := c.seen[key]; exists {
		entry.seenAt = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{seenAt: now, element: elem}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanup drops expired keys and re-arms the timer.
func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	now := c.clock.Now()
	// Entries are ordered by mark time, so the scan stops at the first live one.
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		if now.Sub(c.seen[key].seenAt) < c.ttl {
			break
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.seen, key)
		e = next
	}
	c.timer = c.clock.AfterFunc(c.interval, c.cleanup)
}

// Close stops the cleanup timer. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.timer.Stop()
}
