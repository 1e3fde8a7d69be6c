// Package peer implements the in-memory peer table: the mapping from
// AgentId to connection state, source, and staleness tracking (spec §4.2).
package peer

import (
	"sync"
	"time"

	"github.com/axon-project/axon/internal/logger"
	"github.com/axon-project/axon/internal/metrics"
)

// Source identifies where a peer record came from.
type Source int

const (
	SourceStatic Source = iota
	SourceDiscovered
	SourceCached
)

func (s Source) String() string {
	switch s {
	case SourceStatic:
		return "static"
	case SourceDiscovered:
		return "discovered"
	case SourceCached:
		return "cached"
	default:
		return "unknown"
	}
}

// pinned reports whether a source's pubkey must not be overwritten by
// discovery events.
func (s Source) pinned() bool {
	return s == SourceStatic || s == SourceCached
}

// Status is a peer record's connection status.
type Status int

const (
	StatusDiscovered Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusDiscovered:
		return "discovered"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Record is one row of the peer table.
type Record struct {
	AgentID  string
	Addr     string
	Pubkey   string
	Source   Source
	Status   Status
	RTTMs    *int64
	LastSeen time.Time
}

// Table is the thread-safe AgentId -> Record map.
type Table struct {
	mu   sync.RWMutex
	rows map[string]*Record
	pins map[string]string // agent_id -> expected pubkey
	now  func() time.Time
}

// NewTable constructs an empty peer table.
func NewTable() *Table {
	return &Table{
		rows: make(map[string]*Record),
		pins: make(map[string]string),
		now:  time.Now,
	}
}

// UpsertDiscovered inserts or refreshes a discovered peer. Existing
// status and RTT survive a refresh. A pinned record with a mismatched
// incoming pubkey is rejected: the old record is kept and a warning
// logged.
func (t *Table) UpsertDiscovered(agentID, addr, pubkey string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	existing, ok := t.rows[agentID]

	if expected, hasPin := t.pins[agentID]; hasPin && expected != pubkey && ok && existing.Source.pinned() {
		metrics.PubkeyPinViolations.Inc()
		logger.Warn("rejected discovery event with mismatched pubkey for pinned peer",
			logger.String("agent_id", agentID), logger.String("addr", addr))
		return
	}

	if ok {
		existing.Addr = t.tieBreakAddr(existing, addr)
		existing.LastSeen = now
		if !existing.Source.pinned() {
			existing.Source = SourceDiscovered
			existing.Pubkey = pubkey
		}
		t.refreshSizeMetric()
		return
	}

	t.rows[agentID] = &Record{
		AgentID:  agentID,
		Addr:     addr,
		Pubkey:   pubkey,
		Source:   SourceDiscovered,
		Status:   StatusDiscovered,
		LastSeen: now,
	}
	t.refreshSizeMetric()
}

// tieBreakAddr prefers the existing address unless the existing record's
// source is lower priority than a static/cached tie-break would demand;
// Static > Cached > most-recent last_seen governs which addr survives
// when a discovery event repeats for an already-pinned record.
func (t *Table) tieBreakAddr(existing *Record, incomingAddr string) string {
	if existing.Source.pinned() {
		return existing.Addr
	}
	return incomingAddr
}

// Get returns the record for agentID, or nil if absent.
func (t *Table) Get(agentID string) *Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rows[agentID]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// List returns a snapshot of all records.
func (t *Table) List() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, *r)
	}
	return out
}

// Upsert inserts a static/pinned record directly, used for config-loaded
// static peers at startup.
func (t *Table) Upsert(agentID, addr, pubkey string, source Source) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rows[agentID] = &Record{
		AgentID:  agentID,
		Addr:     addr,
		Pubkey:   pubkey,
		Source:   source,
		Status:   StatusDiscovered,
		LastSeen: t.now(),
	}
	if source.pinned() {
		t.pins[agentID] = pubkey
	}
	t.refreshSizeMetric()
}

// SetConnected marks agentID connected, storing an optional RTT sample.
func (t *Table) SetConnected(agentID string, rttMs *int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[agentID]
	if !ok {
		return
	}
	r.Status = StatusConnected
	if rttMs != nil {
		r.RTTMs = rttMs
	}
	r.LastSeen = t.now()
	t.refreshSizeMetric()
}

// SetDisconnected marks agentID disconnected. Status transitions never
// create new rows.
func (t *Table) SetDisconnected(agentID string) {
	t.setStatusLocked(agentID, StatusDisconnected)
}

// SetStatus transitions agentID's status without creating a new row.
func (t *Table) SetStatus(agentID string, status Status) {
	t.setStatusLocked(agentID, status)
}

func (t *Table) setStatusLocked(agentID string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rows[agentID]
	if !ok {
		return
	}
	r.Status = status
	t.refreshSizeMetric()
}

// Remove deletes agentID unconditionally.
func (t *Table) Remove(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, agentID)
	delete(t.pins, agentID)
	t.refreshSizeMetric()
}

// RemoveStale drops Discovered rows whose last_seen is older than ttl.
// Pinned sources (Static, Cached) are never auto-pruned.
func (t *Table) RemoveStale(ttl time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-ttl)
	var removed []string
	for agentID, r := range t.rows {
		if r.Source == SourceDiscovered && r.LastSeen.Before(cutoff) {
			delete(t.rows, agentID)
			removed = append(removed, agentID)
		}
	}
	t.refreshSizeMetric()
	return removed
}

// SetExpectedPeer pins agentID to pubkey for the transport verifier and
// for discovery-event rejection.
func (t *Table) SetExpectedPeer(agentID, pubkey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pins[agentID] = pubkey
}

// ExpectedPubkey returns the pinned pubkey for agentID, if any.
func (t *Table) ExpectedPubkey(agentID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pk, ok := t.pins[agentID]
	return pk, ok
}

// Snapshot is the persisted form of one peer table row (known_peers.json,
// spec §6).
type Snapshot struct {
	AgentID    string `json:"agent_id"`
	Addr       string `json:"addr"`
	Pubkey     string `json:"pubkey"`
	Source     Source `json:"source"`
	Status     Status `json:"status"`
	RTTMs      *int64 `json:"rtt_ms,omitempty"`
	LastSeenMs int64  `json:"last_seen_ms"`
}

// Export returns a snapshot of every row for persistence on shutdown.
func (t *Table) Export() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, Snapshot{
			AgentID:    r.AgentID,
			Addr:       r.Addr,
			Pubkey:     r.Pubkey,
			Source:     r.Source,
			Status:     r.Status,
			RTTMs:      r.RTTMs,
			LastSeenMs: r.LastSeen.UnixMilli(),
		})
	}
	return out
}

// Load restores rows from a prior Export. Every restored row starts
// Disconnected - no live connection survived the restart - and a
// restored Discovered row becomes Cached, so its pubkey stays pinned;
// later discovery events do not change a Cached row's source or pubkey.
func (t *Table) Load(snapshots []Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range snapshots {
		source := s.Source
		if source == SourceDiscovered {
			source = SourceCached
		}
		t.rows[s.AgentID] = &Record{
			AgentID:  s.AgentID,
			Addr:     s.Addr,
			Pubkey:   s.Pubkey,
			Source:   source,
			Status:   StatusDisconnected,
			RTTMs:    s.RTTMs,
			LastSeen: time.UnixMilli(s.LastSeenMs),
		}
		if source.pinned() {
			t.pins[s.AgentID] = s.Pubkey
		}
	}
	t.refreshSizeMetric()
}

// refreshSizeMetric recomputes the per-status gauge. Called with mu held.
func (t *Table) refreshSizeMetric() {
	counts := map[Status]float64{}
	for _, r := range t.rows {
		counts[r.Status]++
	}
	for _, s := range []Status{StatusDiscovered, StatusConnecting, StatusConnected, StatusDisconnected} {
		metrics.PeerTableSize.WithLabelValues(s.String()).Set(counts[s])
	}
}
