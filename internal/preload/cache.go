package preload

import (
	"sync"
	"time"

	"callbridge/internal/audio"
)

// DefaultMaxAge bounds how long transcoded frame sets stay resident.
const DefaultMaxAge = 30 * time.Minute

// Key identifies one preloaded frame set table.
type Key struct {
	UserID     string
	ScenarioID int64
}

type cacheEntry struct {
	audios   map[int64]audio.PreloadedAudio
	loadedAt time.Time
}

// Cache holds transcoded frame sets per (user, scenario).
//
// Invariant: at most one non-expired entry per key. Every read checks the
// entry's age first and evicts expired data before reporting a miss, so
// callers never observe stale frames.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]cacheEntry
	maxAge  time.Duration
	clock   func() time.Time
}

func NewCache(maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{
		entries: make(map[Key]cacheEntry),
		maxAge:  maxAge,
		clock:   time.Now,
	}
}

// SetClock overrides the time source for TTL tests.
func (c *Cache) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// Get returns the live entry for key, or ok=false after evicting an expired
// one. The returned map is a copy; cached records themselves are immutable.
func (c *Cache) Get(key Key) (map[int64]audio.PreloadedAudio, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock().Sub(e.loadedAt) > c.maxAge {
		delete(c.entries, key)
		return nil, false
	}
	out := make(map[int64]audio.PreloadedAudio, len(e.audios))
	for id, a := range e.audios {
		out[id] = a
	}
	return out, true
}

func (c *Cache) Put(key Key, audios map[int64]audio.PreloadedAudio) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{audios: audios, loadedAt: c.clock()}
}

// Merge adds one record to the key's entry without refreshing its age, so an
// on-demand line cannot extend the TTL of everything loaded before it. An
// absent or expired entry becomes a fresh single-record entry.
func (c *Cache) Merge(key Key, id int64, rec audio.PreloadedAudio) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	e, ok := c.entries[key]
	if !ok || now.Sub(e.loadedAt) > c.maxAge {
		c.entries[key] = cacheEntry{
			audios:   map[int64]audio.PreloadedAudio{id: rec},
			loadedAt: now,
		}
		return
	}
	audios := make(map[int64]audio.PreloadedAudio, len(e.audios)+1)
	for k, v := range e.audios {
		audios[k] = v
	}
	audios[id] = rec
	c.entries[key] = cacheEntry{audios: audios, loadedAt: e.loadedAt}
}

// Sweep drops every expired entry. Called opportunistically on each preload.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.loadedAt) > c.maxAge {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Drop removes a single key.
func (c *Cache) Drop(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DropAll clears the cache. Administrative operation.
func (c *Cache) DropAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Key]cacheEntry)
}

// Len reports the number of resident entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
