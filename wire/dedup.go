package wire

import (
	"sync"
	"time"
)

const (
	dedupWindowSize = 1000
	dedupWindowTTL  = 5 * time.Minute
)

// dedupEntry tracks a seen correlation id.
type dedupEntry struct {
	mid  string
	seen time.Time
}

// DedupWindow is a per-connection sliding window deduplicator over frame
// correlation ids. It remembers up to dedupWindowSize ids or
// dedupWindowTTL, whichever is reached first. The gateway redelivers
// frames that were pushed but not acked before a reconnect.
type DedupWindow struct {
	mu      sync.Mutex
	entries []dedupEntry
	index   map[string]struct{}
}

// NewDedupWindow creates a new dedup window.
func NewDedupWindow() *DedupWindow {
	return &DedupWindow{
		entries: make([]dedupEntry, 0, dedupWindowSize),
		index:   make(map[string]struct{}, dedupWindowSize),
	}
}

// IsDuplicate returns true if the mid has already been seen.
// If not a duplicate, it records the id.
func (d *DedupWindow) IsDuplicate(mid string) bool {
	if mid == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()

	// Evict expired entries
	cutoff := now.Add(-dedupWindowTTL)
	start := 0
	for start < len(d.entries) && d.entries[start].seen.Before(cutoff) {
		delete(d.index, d.entries[start].mid)
		start++
	}
	if start > 0 {
		d.entries = d.entries[start:]
	}

	if _, ok := d.index[mid]; ok {
		return true
	}

	// Evict oldest if at capacity
	if len(d.entries) >= dedupWindowSize {
		delete(d.index, d.entries[0].mid)
		d.entries = d.entries[1:]
	}

	d.entries = append(d.entries, dedupEntry{mid: mid, seen: now})
	d.index[mid] = struct{}{}
	return false
}

// Len returns the current number of tracked ids.
func (d *DedupWindow) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
