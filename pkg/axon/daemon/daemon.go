// Package daemon implements the control loop: peer-event consumption,
// the reconnect scheduler, the replay cache, and the inbound pipeline
// from transport to the IPC receive buffer (spec §4.4).
package daemon

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/axon-project/axon/internal/logger"
	"github.com/axon-project/axon/internal/metrics"
	"github.com/axon-project/axon/pkg/axon/discovery"
	"github.com/axon-project/axon/pkg/axon/message"
	"github.com/axon-project/axon/pkg/axon/peer"
)

// reconnectTickInterval is how often the scheduler looks for due dials.
const reconnectTickInterval = time.Second

// Dialer establishes an outbound connection; satisfied by *transport.Endpoint.
type Dialer interface {
	Dial(ctx context.Context, remoteAgentID, addr string) error
}

// Publisher receives decoded inbound envelopes that passed the replay
// check, destined for the IPC receive buffer.
type Publisher interface {
	Publish(env *message.Envelope)
}

// Daemon is the single-task orchestrator tying the peer table, replay
// cache, reconnect scheduler, discovery sources, and transport together.
type Daemon struct {
	localAgentID string
	table        *peer.Table
	replay       *ReplayCache
	reconnect    *reconnectScheduler
	dialer       Dialer
	publisher    Publisher

	peerEvents  chan discovery.PeerEvent
	inboundEnvs chan *message.Envelope
}

// Config configures a new Daemon.
type Config struct {
	LocalAgentID string
	Table        *peer.Table
	Replay       *ReplayCache
	Dialer       Dialer
	Publisher    Publisher
}

// New constructs a Daemon ready to Run.
func New(cfg Config) *Daemon {
	return &Daemon{
		localAgentID: cfg.LocalAgentID,
		table:        cfg.Table,
		replay:       cfg.Replay,
		reconnect:    newReconnectScheduler(),
		dialer:       cfg.Dialer,
		publisher:    cfg.Publisher,
		peerEvents:   make(chan discovery.PeerEvent, 256),
		inboundEnvs:  make(chan *message.Envelope, 256),
	}
}

// PeerEvents returns the channel discovery sources should feed.
func (d *Daemon) PeerEvents() chan<- discovery.PeerEvent { return d.peerEvents }

// SetDialer wires the transport layer after construction, since the
// transport endpoint's OnInbound callback needs a *Daemon to exist first.
func (d *Daemon) SetDialer(dialer Dialer) { d.dialer = dialer }

// SetPublisher wires the IPC server after construction, for the same
// reason as SetDialer.
func (d *Daemon) SetPublisher(publisher Publisher) { d.publisher = publisher }

// PublishInbound is called by the transport layer for every successfully
// decoded inbound envelope, uni or bidi.
func (d *Daemon) PublishInbound(env *message.Envelope) {
	d.inboundEnvs <- env
}

// Run drives the control loop until ctx is cancelled. It runs the
// peer-event consumer, the inbound pipeline, and the reconnect ticker as
// sibling goroutines under one errgroup and returns once all three have
// exited.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.consumePeerEvents(ctx) })
	g.Go(func() error { return d.consumeInbound(ctx) })
	g.Go(func() error { return d.runReconnectTicker(ctx) })

	return g.Wait()
}

func (d *Daemon) consumePeerEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-d.peerEvents:
			if !ok {
				return nil
			}
			d.handlePeerEvent(ev)
		}
	}
}

func (d *Daemon) handlePeerEvent(ev discovery.PeerEvent) {
	switch ev.Kind {
	case discovery.EventDiscovered:
		before := d.table.Get(ev.AgentID)
		d.table.UpsertDiscovered(ev.AgentID, ev.Addr, ev.Pubkey)
		after := d.table.Get(ev.AgentID)
		if after == nil {
			return
		}
		if before != nil && after.Pubkey != ev.Pubkey {
			// rejected by a pubkey pin mismatch: the pinned key was kept
			logger.Warn("rejected discovery event for pinned peer with mismatched pubkey",
				logger.String("agent_id", ev.AgentID))
			return
		}
		if transportShouldInitiate(d.localAgentID, ev.AgentID) {
			d.reconnect.EnsureExists(ev.AgentID)
		}
	case discovery.EventLost:
		d.table.SetDisconnected(ev.AgentID)
		d.reconnect.Remove(ev.AgentID)
	}
}

// transportShouldInitiate mirrors transport.ShouldInitiate: both packages
// implement the same lexical-order rule from spec §4.3 independently, so
// daemon does not import transport (transport reaches the daemon only
// through the OnInbound callback it is constructed with).
func transportShouldInitiate(localAgentID, remoteAgentID string) bool {
	return localAgentID < remoteAgentID
}

func (d *Daemon) consumeInbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-d.inboundEnvs:
			if !ok {
				return nil
			}
			if d.replay.IsReplay(env.ID) {
				continue
			}
			if d.publisher != nil {
				d.publisher.Publish(env)
			}
		}
	}
}

func (d *Daemon) runReconnectTicker(ctx context.Context) error {
	ticker := time.NewTicker(reconnectTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.dialDueCandidates(ctx)
		}
	}
}

func (d *Daemon) dialDueCandidates(ctx context.Context) {
	for _, agentID := range d.reconnect.DueCandidates() {
		rec := d.table.Get(agentID)
		if rec == nil || rec.Status == peer.StatusConnected {
			d.reconnect.ReportSuccess(agentID)
			continue
		}
		d.table.SetStatus(agentID, peer.StatusConnecting)
		go d.dialOne(ctx, agentID, rec.Addr)
	}
}

func (d *Daemon) dialOne(ctx context.Context, agentID, addr string) {
	if d.dialer == nil {
		return
	}
	err := d.dialer.Dial(ctx, agentID, addr)
	if err != nil {
		metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
		d.table.SetStatus(agentID, peer.StatusDisconnected)
		d.reconnect.ReportFailure(agentID)
		logger.Warn("reconnect dial failed", logger.String("agent_id", agentID), logger.Err(err))
		return
	}
	metrics.ReconnectAttempts.WithLabelValues("success").Inc()
	d.table.SetConnected(agentID, nil)
	d.reconnect.ReportSuccess(agentID)
}
