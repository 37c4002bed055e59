package mediastore

import (
	"sync"
	"time"
)

// earlyReceiptCache holds delivery/read acknowledgements that arrived before
// the outgoing message they acknowledge was durably stored, keyed by the
// acknowledged message's sent timestamp. Each entry is drained exactly once,
// at the moment the matching message is inserted, so the initial receipt
// counters reflect acknowledgements that won the race.
//
// Unclaimed entries are garbage: no network message will ever reference them
// again. The cache therefore bounds itself by entry count and age rather
// than relying on external cleanup.
type earlyReceiptCache struct {
	mu      sync.Mutex
	maxSize int
	maxAge  time.Duration
	entries map[int64]*earlyReceiptEntry

	now func() time.Time // swappable for tests
}

type earlyReceiptEntry struct {
	counts  map[string]int
	created time.Time
}

func newEarlyReceiptCache(maxSize int, maxAge time.Duration) *earlyReceiptCache {
	return &earlyReceiptCache{
		maxSize: maxSize,
		maxAge:  maxAge,
		entries: make(map[int64]*earlyReceiptEntry),
		now:     time.Now,
	}
}

// Increment records one acknowledgement from address for the message sent at
// timestamp. Acknowledgements are not de-duplicated per sender; callers that
// need at-most-once per sender must de-duplicate themselves.
func (c *earlyReceiptCache) Increment(timestamp int64, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()

	e := c.entries[timestamp]
	if e == nil {
		if len(c.entries) >= c.maxSize {
			c.evictOldestLocked()
		}
		e = &earlyReceiptEntry{
			counts:  make(map[string]int),
			created: c.now(),
		}
		c.entries[timestamp] = e
	}
	e.counts[address]++
}

// Remove atomically pops and returns all cached acknowledgements for the
// timestamp. Returns nil when nothing was cached.
func (c *earlyReceiptCache) Remove(timestamp int64) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entries[timestamp]
	if e == nil {
		return nil
	}
	delete(c.entries, timestamp)
	return e.counts
}

// Len returns the number of cached timestamps.
func (c *earlyReceiptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *earlyReceiptCache) sweepLocked() {
	if c.maxAge <= 0 {
		return
	}
	cutoff := c.now().Add(-c.maxAge)
	for ts, e := range c.entries {
		if e.created.Before(cutoff) {
			delete(c.entries, ts)
		}
	}
}

func (c *earlyReceiptCache) evictOldestLocked() {
	var (
		oldestTS int64
		oldest   time.Time
		found    bool
	)
	for ts, e := range c.entries {
		if !found || e.created.Before(oldest) {
			oldestTS = ts
			oldest = e.created
			found = true
		}
	}
	if found {
		delete(c.entries, oldestTS)
	}
}
