package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureExistsIsIdempotent(t *testing.T) {
	s := newReconnectScheduler()
	s.EnsureExists("ed25519.aaaa")
	s.EnsureExists("ed25519.aaaa")
	assert.Len(t, s.rows, 1)
}

func TestDueCandidatesMarksInFlight(t *testing.T) {
	s := newReconnectScheduler()
	frozen := time.Now()
	s.now = func() time.Time { return frozen }
	s.EnsureExists("ed25519.aaaa")

	due := s.DueCandidates()
	require.Equal(t, []string{"ed25519.aaaa"}, due)

	again := s.DueCandidates()
	assert.Empty(t, again, "an in-flight candidate must not be returned twice")
}

func TestReportFailureDoublesBackoffUpToCap(t *testing.T) {
	s := newReconnectScheduler()
	frozen := time.Now()
	s.now = func() time.Time { return frozen }
	s.EnsureExists("ed25519.aaaa")
	s.DueCandidates()

	s.ReportFailure("ed25519.aaaa")
	assert.Equal(t, 2*time.Second, s.rows["ed25519.aaaa"].currentBackoff)

	for i := 0; i < 10; i++ {
		s.rows["ed25519.aaaa"].inFlight = true
		s.ReportFailure("ed25519.aaaa")
	}
	assert.Equal(t, maxBackoff, s.rows["ed25519.aaaa"].currentBackoff)
}

func TestReportSuccessRemovesState(t *testing.T) {
	s := newReconnectScheduler()
	s.EnsureExists("ed25519.aaaa")
	s.ReportSuccess("ed25519.aaaa")
	assert.NotContains(t, s.rows, "ed25519.aaaa")
}
