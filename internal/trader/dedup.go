package trader

import (
	"sync"
	"time"
)

// Dedup throttles repeated signals: a key seen within the TTL is reported as
// a duplicate. The controller keys on (strategy, market, side), so a strategy
// whose condition holds across many ticks produces at most one entry attempt
// per TTL window instead of a burst.
type Dedup struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

// NewDedup creates a Dedup with the given TTL. A TTL of zero or less
// disables deduplication entirely.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

// IsDuplicate reports whether key was seen within the TTL, marking it seen
// either way.
func (d *Dedup) IsDuplicate(key string) bool {
	if d.ttl <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if seenAt, ok := d.seen[key]; ok && now.Sub(seenAt) < d.ttl {
		return true
	}
	d.seen[key] = now
	return false
}

// Cleanup removes expired entries. Called periodically from the run loop.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, seenAt := range d.seen {
		if now.Sub(seenAt) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
