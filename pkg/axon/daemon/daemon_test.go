package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axon-project/axon/pkg/axon/discovery"
	"github.com/axon-project/axon/pkg/axon/message"
	"github.com/axon-project/axon/pkg/axon/peer"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []*message.Envelope
}

func (p *fakePublisher) Publish(env *message.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, env)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type fakeDialer struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (d *fakeDialer) Dial(_ context.Context, remoteAgentID, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, remoteAgentID)
	if d.fail {
		return assert.AnError
	}
	return nil
}

func newTestDaemon(t *testing.T, pub Publisher, dialer Dialer) *Daemon {
	t.Helper()
	return New(Config{
		LocalAgentID: "ed25519.aaaa",
		Table:        peer.NewTable(),
		Replay:       NewReplayCache(time.Minute, 1000),
		Dialer:       dialer,
		Publisher:    pub,
	})
}

func TestHandlePeerEventDiscoveredInsertsAndSchedulesInitiator(t *testing.T) {
	d := newTestDaemon(t, nil, nil)

	d.handlePeerEvent(discovery.PeerEvent{
		Kind:    discovery.EventDiscovered,
		AgentID: "ed25519.bbbb", // local < remote, so local initiates
		Addr:    "10.0.0.1:7100",
		Pubkey:  "pub-b",
	})

	require.NotNil(t, d.table.Get("ed25519.bbbb"))
	assert.Contains(t, d.reconnect.rows, "ed25519.bbbb")
}

func TestHandlePeerEventDiscoveredDoesNotScheduleWhenRemoteIsInitiator(t *testing.T) {
	d := newTestDaemon(t, nil, nil)
	d.localAgentID = "ed25519.zzzz"

	d.handlePeerEvent(discovery.PeerEvent{
		Kind:    discovery.EventDiscovered,
		AgentID: "ed25519.aaaa", // remote < local, remote initiates
		Addr:    "10.0.0.1:7100",
		Pubkey:  "pub-a",
	})

	assert.NotContains(t, d.reconnect.rows, "ed25519.aaaa")
}

func TestHandlePeerEventLostClearsReconnectState(t *testing.T) {
	d := newTestDaemon(t, nil, nil)
	d.handlePeerEvent(discovery.PeerEvent{Kind: discovery.EventDiscovered, AgentID: "ed25519.bbbb", Addr: "a:1", Pubkey: "k"})
	require.Contains(t, d.reconnect.rows, "ed25519.bbbb")

	d.handlePeerEvent(discovery.PeerEvent{Kind: discovery.EventLost, AgentID: "ed25519.bbbb"})

	assert.NotContains(t, d.reconnect.rows, "ed25519.bbbb")
	rec := d.table.Get("ed25519.bbbb")
	require.NotNil(t, rec)
	assert.Equal(t, peer.StatusDisconnected, rec.Status)
}

func TestInboundPipelineDropsReplays(t *testing.T) {
	pub := &fakePublisher{}
	d := newTestDaemon(t, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.consumeInbound(ctx)
	}()

	env, err := message.New(message.KindNotify, "ed25519.aaaa", "ed25519.bbbb", map[string]string{"x": "1"}, 1)
	require.NoError(t, err)

	d.PublishInbound(env)
	d.PublishInbound(env) // duplicate id, must be dropped by the replay cache

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 10*time.Millisecond)

	dup, err := message.New(message.KindNotify, "ed25519.aaaa", "ed25519.bbbb", map[string]string{"x": "2"}, 2)
	require.NoError(t, err)
	dup.ID = env.ID // force the same id with different content
	d.PublishInbound(dup)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, pub.count(), "envelope with a previously seen id must not be republished")

	cancel()
	wg.Wait()
}

func TestDialDueCandidatesReportsOutcome(t *testing.T) {
	dialer := &fakeDialer{}
	d := newTestDaemon(t, nil, dialer)
	d.table.UpsertDiscovered("ed25519.bbbb", "10.0.0.1:7100", "pub-b")
	d.reconnect.EnsureExists("ed25519.bbbb")

	d.dialDueCandidates(context.Background())

	require.Eventually(t, func() bool {
		rec := d.table.Get("ed25519.bbbb")
		return rec != nil && rec.Status == peer.StatusConnected
	}, time.Second, 10*time.Millisecond)

	dialer.mu.Lock()
	assert.Equal(t, []string{"ed25519.bbbb"}, dialer.calls)
	dialer.mu.Unlock()
}

func TestDialDueCandidatesSchedulesRetryOnFailure(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	d := newTestDaemon(t, nil, dialer)
	d.table.UpsertDiscovered("ed25519.bbbb", "10.0.0.1:7100", "pub-b")
	d.reconnect.EnsureExists("ed25519.bbbb")

	d.dialDueCandidates(context.Background())

	require.Eventually(t, func() bool {
		rec := d.table.Get("ed25519.bbbb")
		return rec != nil && rec.Status == peer.StatusDisconnected
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		st, ok := d.reconnect.rows["ed25519.bbbb"]
		return ok && !st.inFlight
	}, time.Second, 10*time.Millisecond)
}

