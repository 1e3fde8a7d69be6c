package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticSourceEmitsOneDiscoveredPerPeer(t *testing.T) {
	src := NewStaticSource([]StaticPeer{
		{AgentID: "ed25519.aaaa", Addr: "10.0.0.1:7100", Pubkey: "ka"},
		{AgentID: "ed25519.bbbb", Addr: "10.0.0.2:7100", Pubkey: "kb"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := src.Run(ctx)
	require.NoError(t, err)

	var got []PeerEvent
	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			got = append(got, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for discovery event")
		}
	}

	assert.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, EventDiscovered, e.Kind)
	}
}

func TestMDNSSourceRunReturnsNotImplemented(t *testing.T) {
	src := NewMDNSSource("axon-test")

	_, err := src.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not implemented")
}

func TestStaticSourceClosesOnCancel(t *testing.T) {
	src := NewStaticSource(nil)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := src.Run(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel should be closed after cancellation")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
