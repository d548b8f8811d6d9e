// Package cache provides a thread-safe in-memory cache with per-entry TTLs,
// a bounded entry count and hit/miss accounting.
//
// Capacity is enforced on insert: when the cache is full, expired entries are
// swept first and, if that frees nothing, the single entry closest to its
// expiration is evicted. This is expiry-order eviction, not LRU.
//
// Every public method takes the same mutex for its whole duration, so stats and
// entries are never observed mid-mutation.
package cache

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL is the lifetime of entries stored with Set.
	DefaultTTL = 300 * time.Second

	// DefaultMaxSize is the default entry-count ceiling.
	DefaultMaxSize = 1000
)

// Recorder receives cache events. Implementations are called while the cache
// lock is held and must not call back into the cache.
type Recorder interface {
	Hit()
	Miss()
	Eviction()
	Expiration()
	Size(n int)
}

type noopRecorder struct{}

func (noopRecorder) Hit()        {}
func (noopRecorder) Miss()       {}
func (noopRecorder) Eviction()   {}
func (noopRecorder) Expiration() {}
func (noopRecorder) Size(int)    {}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
}

// HitRatio returns hits / (hits + misses), or 0 when nothing was looked up.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache maps string keys to values that expire.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry

	defaultTTL time.Duration
	maxSize    int

	hits      uint64
	misses    uint64
	evictions uint64

	now      func() time.Time
	recorder Recorder
}

// Option configures a Cache.
type Option func(*Cache)

// WithDefaultTTL sets the TTL used by Set.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.defaultTTL = ttl
	}
}

// WithMaxSize sets the maximum number of entries. Values below 1 are ignored.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithRecorder routes cache events to r.
func WithRecorder(r Recorder) Option {
	return func(c *Cache) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]entry),
		defaultTTL: DefaultTTL,
		maxSize:    DefaultMaxSize,
		now:        time.Now,
		recorder:   noopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key. An expired entry is removed and
// counted as a miss.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if c.now().Before(e.expiresAt) {
			c.hits++
			c.recorder.Hit()
			return e.value, true
		}
		delete(c.entries, key)
		c.recorder.Expiration()
		c.recorder.Size(len(c.entries))
	}

	c.misses++
	c.recorder.Miss()
	return nil, false
}

// Set stores value under key with the current default TTL.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key for ttl. A zero or negative ttl is kept
// as is, so the entry is already expired on the next read.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, ttl)
}

func (c *Cache) set(key string, value any, ttl time.Duration) {
	now := c.now()

	if len(c.entries) >= c.maxSize {
		c.evictExpired(now)

		if len(c.entries) >= c.maxSize {
			c.evictEarliest()
		}
	}

	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	c.recorder.Size(len(c.entries))
}

// evictExpired drops every entry whose expiration is not after now.
func (c *Cache) evictExpired(now time.Time) {
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			c.recorder.Expiration()
		}
	}
}

// evictEarliest drops the entry with the earliest expiration.
func (c *Cache) evictEarliest() {
	var (
		victim   string
		earliest time.Time
		found    bool
	)
	for key, e := range c.entries {
		if !found || e.expiresAt.Before(earliest) {
			victim, earliest, found = key, e.expiresAt, true
		}
	}
	if !found {
		return
	}

	delete(c.entries, victim)
	c.evictions++
	c.recorder.Eviction()
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.recorder.Size(len(c.entries))
	return true
}

// DeletePrefix removes every key starting with prefix and returns how many
// entries were removed.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.recorder.Size(len(c.entries))
	}
	return removed
}

// Clear removes all entries and resets the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
	c.hits = 0
	c.misses = 0
	c.evictions = 0
	c.recorder.Size(0)
}

// Stats returns a consistent snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
	}
}

// DefaultTTL returns the TTL applied by Set.
func (c *Cache) DefaultTTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaultTTL
}

// SetDefaultTTL changes the TTL applied by later Set calls. Existing entries
// keep their expiration.
func (c *Cache) SetDefaultTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultTTL = ttl
}
