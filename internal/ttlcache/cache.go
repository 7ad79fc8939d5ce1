// ABOUTME: Generic TTL cache with lazy expiry on read and watermark-bounded eviction.
// ABOUTME: Backs permission tier lookups and session mode lookups.

package ttlcache

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Default tuning values used when Options leaves a field at zero.
const (
	DefaultTTL       = 30 * time.Second
	DefaultHighWater = 500
	DefaultLowWater  = 250
)

// Options configures a Cache.
type Options struct {
	// TTL is how long an entry stays visible after it was stored.
	TTL time.Duration
	// HighWater is the size above which Sweep evicts the oldest entries.
	HighWater int
	// LowWater is the size Sweep evicts down to once HighWater is exceeded.
	LowWater int
	// SweepInterval is the period of the background sweep. Defaults to TTL.
	SweepInterval time.Duration
}

// entry is a stored value and the time it was written.
type entry[V any] struct {
	value    V
	storedAt time.Time
}

// SweepResult reports what a single Sweep removed.
type SweepResult struct {
	Expired int
	Evicted int
}

// Cache is a thread-safe string-keyed cache whose entries expire TTL after
// they were stored. Expiry is checked on every Get, and a background goroutine
// sweeps expired entries and enforces the high/low watermarks.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its periodic sweep.
func New[V any](opts Options, logger *slog.Logger) *Cache[V] {
	return newCache[V](opts, logger, time.Now)
}

func newCache[V any](opts Options, logger *slog.Logger, now func() time.Time) *Cache[V] {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.HighWater <= 0 {
		opts.HighWater = DefaultHighWater
	}
	if opts.LowWater <= 0 || opts.LowWater >= opts.HighWater {
		opts.LowWater = opts.HighWater / 2
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = opts.TTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		opts:    opts,
		now:     now,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the value stored under key if it has not expired.
// An expired entry is deleted as a side effect.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.RLock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.RUnlock()
		return zero, false
	}
	if !c.expired(e, c.now()) {
		v := e.value
		c.mu.RUnlock()
		return v, true
	}
	c.mu.RUnlock()

	// Re-check under the write lock: a Set may have refreshed the key.
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok = c.entries[key]
	if !ok {
		return zero, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, resetting its age.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry[V]{value: value, storedAt: c.now()}
}

// Delete removes a single key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Invalidate removes every key that contains pattern and returns how many
// were removed. An empty pattern removes nothing.
func (c *Cache[V]) Invalidate(pattern string) int {
	if pattern == "" {
		return 0
	}
	return c.InvalidateFunc(func(key string) bool {
		return strings.Contains(key, pattern)
	})
}

// InvalidateFunc removes every key for which match returns true and returns
// how many were removed.
func (c *Cache[V]) InvalidateFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if match(key) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries, then evicts oldest-first down to LowWater
// if the cache is still above HighWater.
func (c *Cache[V]) Sweep() SweepResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var res SweepResult
	now := c.now()
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
			res.Expired++
		}
	}

	if len(c.entries) <= c.opts.HighWater {
		return res
	}

	type aged struct {
		key      string
		storedAt time.Time
	}
	order := make([]aged, 0, len(c.entries))
	for key, e := range c.entries {
		order = append(order, aged{key: key, storedAt: e.storedAt})
	}
	slices.SortFunc(order, func(a, b aged) int {
		return a.storedAt.Compare(b.storedAt)
	})

	excess := len(c.entries) - c.opts.LowWater
	for _, a := range order[:excess] {
		delete(c.entries, a.key)
		res.Evicted++
	}
	return res
}

func (c *Cache[V]) expired(e *entry[V], now time.Time) bool {
	return now.Sub(e.storedAt) > c.opts.TTL
}

// sweepLoop runs Sweep on a fixed ticker until Close is called.
func (c *Cache[V]) sweepLoop() {
	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res := c.Sweep()
			if res.Expired > 0 || res.Evicted > 0 {
				c.logger.Debug("cache swept", "expired", res.Expired, "evicted", res.Evicted)
			}
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
