package daemon

import (
	"sync"
	"time"

	"github.com/axon-project/axon/internal/metrics"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// reconnectState tracks a single peer's dial schedule (spec §3).
type reconnectState struct {
	nextAttemptAt  time.Time
	currentBackoff time.Duration
	inFlight       bool
}

// reconnectScheduler holds per-AgentId reconnect state, created on
// discovery and removed on successful connect or peer loss.
type reconnectScheduler struct {
	mu    sync.Mutex
	rows  map[string]*reconnectState
	now   func() time.Time
}

func newReconnectScheduler() *reconnectScheduler {
	return &reconnectScheduler{
		rows: make(map[string]*reconnectState),
		now:  time.Now,
	}
}

// EnsureExists creates a reconnect state ready to fire immediately if
// agentID has none yet.
func (s *reconnectScheduler) EnsureExists(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[agentID]; ok {
		return
	}
	s.rows[agentID] = &reconnectState{
		nextAttemptAt:  s.now(),
		currentBackoff: initialBackoff,
	}
}

// Remove drops agentID's reconnect state, on successful connect or loss.
func (s *reconnectScheduler) Remove(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, agentID)
}

// DueCandidates returns agent ids whose next_attempt_at has passed and
// which are not already in flight, marking them in_flight before return.
func (s *reconnectScheduler) DueCandidates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []string
	for agentID, st := range s.rows {
		if st.inFlight || st.nextAttemptAt.After(now) {
			continue
		}
		st.inFlight = true
		due = append(due, agentID)
	}
	return due
}

// ReportSuccess clears in_flight and removes the state entirely, since
// the peer table now reflects Connected status directly.
func (s *reconnectScheduler) ReportSuccess(agentID string) {
	s.Remove(agentID)
}

// ReportFailure clears in_flight and doubles the backoff up to the cap.
func (s *reconnectScheduler) ReportFailure(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rows[agentID]
	if !ok {
		return
	}
	st.inFlight = false
	st.currentBackoff *= 2
	if st.currentBackoff > maxBackoff {
		st.currentBackoff = maxBackoff
	}
	st.nextAttemptAt = s.now().Add(st.currentBackoff)
	metrics.ReconnectBackoffSeconds.Observe(st.currentBackoff.Seconds())
}
