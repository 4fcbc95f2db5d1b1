package ble

import (
	"sync"
	"time"
)

// CacheCapacity is the fixed number of MAC slots, per spec.md §4.4.
const CacheCapacity = 64

// StalenessTimeout is how long an entry may go unobserved before it is
// considered stale, per spec.md §4.4.
const StalenessTimeout = 60 * time.Second

type cacheSlot struct {
	valid    bool
	record   Record
	lastSeen time.Time
}

// Cache is the fixed-capacity, MAC-indexed advertisement cache of spec.md
// §3/§4.4. It is driven by two events — Observe and CleanStale — so a test
// harness can exercise it without real time or real threads, per the design
// note in spec.md §9. A single mutex protects the whole structure.
type Cache struct {
	mu    sync.Mutex
	slots [CacheCapacity]cacheSlot
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Observe merges rec into the cache at time t: if rec's MAC is already
// cached, its fields are overwritten and last-seen bumped; otherwise the
// first empty slot is used, or — if the cache is full — the slot with the
// smallest last-seen is evicted (LRU by last-seen), per spec.md §4.4/§8.
func (c *Cache) Observe(rec Record, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.slots {
		if c.slots[i].valid && c.slots[i].record.MAC == rec.MAC {
			c.slots[i].record = rec.clone()
			c.slots[i].lastSeen = t
			return
		}
	}

	for i := range c.slots {
		if !c.slots[i].valid {
			c.slots[i].valid = true
			c.slots[i].record = rec.clone()
			c.slots[i].lastSeen = t
			return
		}
	}

	victim := 0
	for i := 1; i < CacheCapacity; i++ {
		if c.slots[i].lastSeen.Before(c.slots[victim].lastSeen) {
			victim = i
		}
	}
	c.slots[victim].record = rec.clone()
	c.slots[victim].lastSeen = t
	// slots[victim].valid is already true
}

// CleanStale invalidates every entry whose last-seen is older than
// StalenessTimeout relative to t, per spec.md §4.4/§8. It is run before each
// periodic flush.
func (c *Cache) CleanStale(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].valid && t.Sub(c.slots[i].lastSeen) > StalenessTimeout {
			c.slots[i].valid = false
			c.slots[i].record = Record{}
		}
	}
}

// Snapshot returns a copy of every currently valid record. Order is
// unspecified, matching spec.md §4.4's "order within a batch is
// unspecified".
func (c *Cache) Snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, CacheCapacity)
	for i := range c.slots {
		if c.slots[i].valid {
			out = append(out, c.slots[i].record.clone())
		}
	}
	return out
}

// Len reports the number of currently valid entries (test/diagnostic use).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.slots {
		if c.slots[i].valid {
			n++
		}
	}
	return n
}
