// Package cache implements the in-memory cache behind every analytics and
// personalization read. Entries carry a TTL and are reaped lazily on
// access; when the cache is full a pluggable eviction strategy (LRU, FIFO
// or LFU) picks the victim.
//
// The cache never returns an error: absence, expiry and eviction all look
// the same to the caller, a plain miss. Memory may transiently exceed
// MaxSize by entries that have expired but not been touched since; the
// next Get or Set on such a key reclaims it.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config fixes a cache instance's behavior for its lifetime.
type Config struct {
	TTL      time.Duration
	MaxSize  int
	Strategy Strategy
}

// DefaultConfig returns the defaults used for analytics read caches.
func DefaultConfig() Config {
	return Config{
		TTL:      5 * time.Minute,
		MaxSize:  1000,
		Strategy: LRU,
	}
}

// entry is a single cached value plus the bookkeeping the eviction
// strategies and TTL expiry need. Entries never escape the cache.
type entry[V any] struct {
	value          V
	createdAt      time.Time
	ttl            time.Duration
	accessCount    int64
	lastAccessedAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Stats is a point-in-time snapshot of a cache instance.
type Stats struct {
	Size      int           `json:"size"`
	MaxSize   int           `json:"maxSize"`
	Strategy  Strategy      `json:"strategy"`
	TTL       time.Duration `json:"ttl"`
	Hits      int64         `json:"hits"`
	Misses    int64         `json:"misses"`
	Evictions int64         `json:"evictions"`
}

// Cache is a bounded, TTL-expiring key/value store. It is safe for
// concurrent use; the mutex covers lookup, expiry reaping and eviction so
// readers always see a whole entry or nothing.
type Cache[V any] struct {
	mu     sync.Mutex
	cfg    Config
	items  map[string]*entry[V]
	policy policy
	logger *zap.Logger

	hits      int64
	misses    int64
	evictions int64
}

// New creates a cache with the given configuration. Zero or negative
// config fields fall back to defaults so a partially filled Config is
// still usable.
func New[V any](cfg Config, logger *zap.Logger) *Cache[V] {
	defaults := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaults.MaxSize
	}
	if !cfg.Strategy.Valid() {
		cfg.Strategy = defaults.Strategy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[V]{
		cfg:    cfg,
		items:  make(map[string]*entry[V]),
		policy: newPolicy(cfg.Strategy),
		logger: logger,
	}
}

// Get returns the value for key, or the zero value and false when the key
// is absent or its TTL has elapsed. Expired entries are removed on the
// spot. A hit updates the entry's access bookkeeping and the eviction
// strategy's view of the key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}

	now := time.Now()
	if e.expired(now) {
		delete(c.items, key)
		c.policy.Remove(key)
		c.misses++
		var zero V
		return zero, false
	}

	e.accessCount++
	e.lastAccessedAt = now
	c.policy.OnGet(key)
	c.hits++
	return e.value, true
}

// Set stores value under key with the configured default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL stores value under key. A non-positive ttl means the
// configured default. Inserting into a full cache evicts one entry first,
// chosen by the strategy; overwriting never evicts.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.items[key]; !exists && len(c.items) >= c.cfg.MaxSize {
		if victim := c.policy.Evict(); victim != "" {
			delete(c.items, victim)
			c.evictions++
			c.logger.Debug("cache entry evicted",
				zap.String("key", victim),
				zap.String("strategy", string(c.cfg.Strategy)),
			)
		}
	}

	c.items[key] = &entry[V]{
		value:          value,
		createdAt:      now,
		ttl:            ttl,
		lastAccessedAt: now,
	}
	c.policy.OnPut(key)
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	c.policy.Remove(key)
	return true
}

// Clear drops every entry and resets the eviction strategy. Hit and miss
// counters survive; they describe the instance, not its contents.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry[V])
	c.policy = newPolicy(c.cfg.Strategy)
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of size, configuration and counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:      len(c.items),
		MaxSize:   c.cfg.MaxSize,
		Strategy:  c.cfg.Strategy,
		TTL:       c.cfg.TTL,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
