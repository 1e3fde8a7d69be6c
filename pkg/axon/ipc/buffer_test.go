package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axon-project/axon/pkg/axon/message"
)

func mustEnvelope(t *testing.T, kind message.Kind) *message.Envelope {
	t.Helper()
	env, err := message.New(kind, "ed25519.a", "ed25519.b", map[string]string{"x": "1"}, 1)
	require.NoError(t, err)
	return env
}

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	buf := NewReceiveBuffer(10)
	buf.Publish(mustEnvelope(t, message.KindNotify))
	buf.Publish(mustEnvelope(t, message.KindNotify))

	assert.Equal(t, uint64(2), buf.HighestSeq())
}

func TestPublishDropsOldestOnOverflow(t *testing.T) {
	buf := NewReceiveBuffer(2)
	buf.Publish(mustEnvelope(t, message.KindNotify))
	buf.Publish(mustEnvelope(t, message.KindNotify))
	buf.Publish(mustEnvelope(t, message.KindNotify))

	assert.Len(t, buf.entries, 2)
	assert.Equal(t, uint64(2), buf.entries[0].Seq, "oldest entry must have been dropped")
}

func TestInboxReturnsUnseenEventsInOrder(t *testing.T) {
	buf := NewReceiveBuffer(10)
	buf.Publish(mustEnvelope(t, message.KindNotify))
	buf.Publish(mustEnvelope(t, message.KindPing))

	events, next, hasMore := buf.Inbox("alice", 10, nil)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), next)
	assert.False(t, hasMore)

	events, _, _ = buf.Inbox("alice", 10, nil)
	assert.Empty(t, events, "delivered_seq must have advanced past both entries")
}

func TestInboxRespectsKindFilter(t *testing.T) {
	buf := NewReceiveBuffer(10)
	buf.Publish(mustEnvelope(t, message.KindNotify))
	buf.Publish(mustEnvelope(t, message.KindPing))

	events, _, _ := buf.Inbox("alice", 10, []string{"ping"})
	require.Len(t, events, 1)
	assert.Equal(t, message.KindPing, events[0].Envelope.Kind)
}

func TestInboxRespectsLimitAndReportsHasMore(t *testing.T) {
	buf := NewReceiveBuffer(10)
	buf.Publish(mustEnvelope(t, message.KindNotify))
	buf.Publish(mustEnvelope(t, message.KindNotify))
	buf.Publish(mustEnvelope(t, message.KindNotify))

	events, next, hasMore := buf.Inbox("alice", 2, nil)
	assert.Len(t, events, 2)
	assert.Equal(t, uint64(2), next)
	assert.True(t, hasMore)
}

func TestAckAdvancesAckedSeqWithinRange(t *testing.T) {
	buf := NewReceiveBuffer(10)
	buf.Publish(mustEnvelope(t, message.KindNotify))
	buf.Publish(mustEnvelope(t, message.KindNotify))

	assert.True(t, buf.Ack("alice", 1))
	assert.False(t, buf.Ack("alice", 99), "ack beyond the highest seq must be out of range")
}

func TestReplayToRespectsUpToSeqAndAdvancesDelivered(t *testing.T) {
	buf := NewReceiveBuffer(10)
	buf.Publish(mustEnvelope(t, message.KindNotify))
	buf.Publish(mustEnvelope(t, message.KindNotify))
	highest := buf.HighestSeq()
	buf.Publish(mustEnvelope(t, message.KindNotify)) // arrives after subscribe's watermark

	replayed := buf.ReplayTo("alice", highest, nil)
	assert.Len(t, replayed, 2)

	live, _, _ := buf.Inbox("alice", 10, nil)
	require.Len(t, live, 1, "only the entry published after the replay watermark should remain in inbox")
}
