package daemon

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axon-project/axon/internal/metrics"
)

// replayEntry is one tracked envelope id with its insertion time.
type replayEntry struct {
	id      uuid.UUID
	seenAt  time.Time
}

// ReplayCache is a bounded, TTL-based set of seen envelope ids (spec §3).
// Eviction drains TTL-expired entries from the front of an
// insertion-ordered queue on every insert, then evicts from the front
// again while size exceeds the cap.
type ReplayCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	cap      int
	order    *list.List // front = oldest, back = newest
	elements map[uuid.UUID]*list.Element
	now      func() time.Time
}

// NewReplayCache builds an empty cache with the given TTL and max entries.
func NewReplayCache(ttl time.Duration, cap int) *ReplayCache {
	return &ReplayCache{
		ttl:      ttl,
		cap:      cap,
		order:    list.New(),
		elements: make(map[uuid.UUID]*list.Element),
		now:      time.Now,
	}
}

// IsReplay reports whether id was already inserted within the last TTL
// and inserts it if not, so a single call serves as check-and-record.
func (c *ReplayCache) IsReplay(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()

	if _, seen := c.elements[id]; seen {
		metrics.ReplayHits.Inc()
		return true
	}

	elem := c.order.PushBack(&replayEntry{id: id, seenAt: c.now()})
	c.elements[id] = elem

	for c.order.Len() > c.cap {
		c.evictFrontLocked("cap")
	}
	metrics.ReplayCacheSize.Set(float64(c.order.Len()))
	return false
}

func (c *ReplayCache) evictExpiredLocked() {
	cutoff := c.now().Add(-c.ttl)
	for {
		front := c.order.Front()
		if front == nil {
			break
		}
		entry := front.Value.(*replayEntry)
		if entry.seenAt.After(cutoff) {
			break
		}
		c.evictFrontLocked("ttl")
	}
}

func (c *ReplayCache) evictFrontLocked(reason string) {
	front := c.order.Front()
	if front == nil {
		return
	}
	entry := front.Value.(*replayEntry)
	c.order.Remove(front)
	delete(c.elements, entry.id)
	metrics.ReplayEvictions.WithLabelValues(reason).Inc()
}

// Snapshot is the persisted form of one replay cache entry.
type Snapshot struct {
	ID       uuid.UUID `json:"id"`
	SeenAtMs int64     `json:"seen_at_ms"`
}

// Export returns every non-expired entry for persistence on shutdown.
func (c *ReplayCache) Export() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked()
	out := make([]Snapshot, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*replayEntry)
		out = append(out, Snapshot{ID: entry.id, SeenAtMs: entry.seenAt.UnixMilli()})
	}
	return out
}

// Load restores entries from a prior Export, discarding any already
// TTL-expired relative to now.
func (c *ReplayCache) Load(snapshots []Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	for _, s := range snapshots {
		seenAt := time.UnixMilli(s.SeenAtMs)
		if seenAt.Before(cutoff) {
			continue
		}
		if _, exists := c.elements[s.ID]; exists {
			continue
		}
		elem := c.order.PushBack(&replayEntry{id: s.ID, seenAt: seenAt})
		c.elements[s.ID] = elem
	}
	metrics.ReplayCacheSize.Set(float64(c.order.Len()))
}

// Len returns the current entry count.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
