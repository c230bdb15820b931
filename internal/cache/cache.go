// Package cache implements the fingerprint-keyed, TTL-based result cache
// consulted before dispatch for cacheable task families.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// KeyFields is the subset of route constraints that affects provider output
// and therefore participates in the fingerprint. Purely operational knobs
// (max candidates, budget tier, timeouts) are deliberately excluded.
type KeyFields struct {
	Multilingual bool
	SafetyFilter bool
	Temperature  float64
	MaxNewTokens int
}

// Fingerprint computes the stable cache key for one request: a SHA-256 over
// the canonical task family, the normalized input payload, and the
// output-affecting constraint fields.
func Fingerprint(family string, input []byte, k KeyFields) string {
	h := sha256.New()
	h.Write([]byte(family))
	h.Write([]byte{0})
	h.Write(normalizeInput(input))
	h.Write([]byte{0})
	fmt.Fprintf(h, "ml=%t;sf=%t;temp=%g;mnt=%d", k.Multilingual, k.SafetyFilter, k.Temperature, k.MaxNewTokens)
	return hex.EncodeToString(h.Sum(nil))
}

// normalizeInput canonicalizes the opaque payload so that insignificant
// whitespace differences do not defeat the cache. Valid JSON is compacted;
// anything else is whitespace-trimmed.
func normalizeInput(input []byte) []byte {
	var buf bytes.Buffer
	if json.Valid(input) {
		if err := json.Compact(&buf, input); err == nil {
			return buf.Bytes()
		}
	}
	return bytes.TrimSpace(input)
}

type entry struct {
	payload   json.RawMessage
	createdAt time.Time
	expiresAt time.Time
}

// Stats reports cache performance counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// Cache is a TTL-bounded, size-limited in-memory store for cacheable task
// results. Expired entries are removed lazily on Get and by a periodic
// sweep; when a write would exceed capacity the oldest entry is evicted.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	hits       int64
	misses     int64
	evictions  int64
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a Cache holding at most maxEntries results. sweepInterval
// controls the background expiry sweep; 0 disables it (lazy expiry and the
// capacity bound still prevent unbounded growth).
func New(maxEntries int, sweepInterval time.Duration) *Cache {
	c := &Cache{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		stop:       make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

// Get returns the cached payload if present and unexpired. Expired entries
// are deleted on the spot.
func (c *Cache) Get(fingerprint string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	if !time.Now().Before(e.expiresAt) {
		delete(c.entries, fingerprint)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.payload, true
}

// Put stores a payload under the fingerprint, overwriting unconditionally
// (last write wins). Concurrent identical misses may both dispatch and both
// Put; the second write simply replaces the first.
func (c *Cache) Put(fingerprint string, payload json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[fingerprint]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[fingerprint] = &entry{
		payload:   payload,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// Len returns the current entry count, counting not-yet-swept expired entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops all entries and resets the hit, miss, and eviction counters so
// the reported rates refer to the emptied cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.hits = 0
	c.misses = 0
	c.evictions = 0
}

// Snapshot returns the current cache counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

// Stop terminates the background sweep goroutine.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep removes all expired entries.
func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// evictOldest removes the entry with the earliest createdAt. Caller must
// hold c.mu.
func (c *Cache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range c.entries {
		if first || e.createdAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.createdAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}
