// Package cache provides a time-bounded cache for whole store snapshots.
//
// The cache holds at most one Snapshot together with its capture time. A
// snapshot is served while it is younger than the configured lifetime;
// after that, or when a caller forces a refresh, the read path falls back
// to the authoritative store.
package cache

import (
	"sync"
	"time"

	"github.com/hupe1980/idtrack/model"
)

// DefaultLifetime is how long a cached snapshot stays valid.
const DefaultLifetime = 60 * time.Second

// Options contains configuration for the snapshot cache.
type Options struct {
	// Lifetime is the maximum age of a served snapshot.
	Lifetime time.Duration

	// Clock returns the current time. Overridable for deterministic
	// expiry tests.
	Clock func() time.Time
}

// DefaultOptions returns default cache options.
var DefaultOptions = Options{
	Lifetime: DefaultLifetime,
	Clock:    time.Now,
}

// WithLifetime sets the snapshot lifetime.
func WithLifetime(d time.Duration) func(o *Options) {
	return func(o *Options) {
		o.Lifetime = d
	}
}

// WithClock sets the time source.
func WithClock(clock func() time.Time) func(o *Options) {
	return func(o *Options) {
		o.Clock = clock
	}
}

// Cache is a single-snapshot TTL cache. Safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	snapshot model.Snapshot
	captured time.Time
	has      bool

	lifetime time.Duration
	clock    func() time.Time
}

// New creates a new snapshot cache.
func New(optFns ...func(o *Options)) *Cache {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Cache{
		lifetime: opts.Lifetime,
		clock:    opts.Clock,
	}
}

// Valid reports whether a snapshot is present and within its lifetime.
func (c *Cache) Valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validLocked()
}

func (c *Cache) validLocked() bool {
	if !c.has {
		return false
	}
	return c.clock().Sub(c.captured) <= c.lifetime
}

// Get returns the cached snapshot. ok is false on a miss: no snapshot,
// an expired one, or a forced refresh.
func (c *Cache) Get(forceRefresh bool) (model.Snapshot, bool) {
	if forceRefresh {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.validLocked() {
		return nil, false
	}
	return c.snapshot, true
}

// Refresh replaces the snapshot and its capture time atomically.
func (c *Cache) Refresh(snapshot model.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = snapshot
	c.captured = c.clock()
	c.has = true
}

// Invalidate drops the cached snapshot.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshot = nil
	c.has = false
}
