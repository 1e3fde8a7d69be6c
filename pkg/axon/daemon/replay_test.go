package daemon

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReplayDetectsDuplicateWithinTTL(t *testing.T) {
	cache := NewReplayCache(5*time.Minute, 100)
	id := uuid.New()

	assert.False(t, cache.IsReplay(id), "first sighting is not a replay")
	assert.True(t, cache.IsReplay(id), "second sighting within TTL is a replay")
}

func TestIsReplayExpiresAfterTTL(t *testing.T) {
	cache := NewReplayCache(time.Minute, 100)
	frozen := time.Now()
	cache.now = func() time.Time { return frozen }

	id := uuid.New()
	require.False(t, cache.IsReplay(id))

	cache.now = func() time.Time { return frozen.Add(2 * time.Minute) }
	assert.False(t, cache.IsReplay(id), "entry past TTL must no longer count as a replay")
}

func TestCapEvictsOldestFirst(t *testing.T) {
	cache := NewReplayCache(time.Hour, 2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	cache.IsReplay(a)
	cache.IsReplay(b)
	cache.IsReplay(c) // evicts a

	assert.Equal(t, 2, cache.Len())
	assert.False(t, cache.IsReplay(a), "a should have been evicted by the cap and count as new again")
}

func TestExportLoadRoundTrip(t *testing.T) {
	cache := NewReplayCache(time.Hour, 100)
	id := uuid.New()
	cache.IsReplay(id)

	snapshots := cache.Export()
	require.Len(t, snapshots, 1)

	restored := NewReplayCache(time.Hour, 100)
	restored.Load(snapshots)

	assert.True(t, restored.IsReplay(id), "restored cache must still recognize the persisted id")
}

func TestLoadDiscardsExpiredEntries(t *testing.T) {
	restored := NewReplayCache(time.Minute, 100)
	stale := []Snapshot{{ID: uuid.New(), SeenAtMs: time.Now().Add(-time.Hour).UnixMilli()}}

	restored.Load(stale)
	assert.Equal(t, 0, restored.Len())
}
