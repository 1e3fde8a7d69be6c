// Package discovery defines the peer-event stream interface consumed by
// the daemon control loop, plus a static-config source. mDNS
// advertising/browsing internals are an external collaborator; only the
// interface they must satisfy is specified here (spec §4.4, §1).
package discovery

import (
	"context"
	"errors"
)

// EventKind distinguishes a discovered peer from a lost one.
type EventKind int

const (
	EventDiscovered EventKind = iota
	EventLost
)

// PeerEvent is emitted by a Source when a peer appears or disappears.
type PeerEvent struct {
	Kind    EventKind
	AgentID string
	Addr    string // set on EventDiscovered
	Pubkey  string // base64, set on EventDiscovered
}

// Source produces a stream of PeerEvents until ctx is cancelled, then
// closes the returned channel.
type Source interface {
	Run(ctx context.Context) (<-chan PeerEvent, error)
}

// StaticPeer is one entry of a statically configured peer.
type StaticPeer struct {
	AgentID string
	Addr    string
	Pubkey  string
}

// StaticSource emits one EventDiscovered per configured peer on Run, and
// never emits EventLost — static peers are pinned and the reconnect
// scheduler owns their retry lifecycle.
type StaticSource struct {
	Peers []StaticPeer
}

// NewStaticSource builds a Source over a fixed peer list, typically the
// `peers` section of config.yaml.
func NewStaticSource(peers []StaticPeer) *StaticSource {
	return &StaticSource{Peers: peers}
}

func (s *StaticSource) Run(ctx context.Context) (<-chan PeerEvent, error) {
	out := make(chan PeerEvent, len(s.Peers))
	for _, p := range s.Peers {
		out <- PeerEvent{
			Kind:    EventDiscovered,
			AgentID: p.AgentID,
			Addr:    p.Addr,
			Pubkey:  p.Pubkey,
		}
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

// MDNSSource would advertise this node and browse for peers over
// mDNS/DNS-SD, publishing a TXT record under "_axon._tcp.local." with
// "agent_id" (the Ed25519-SPKI-derived AgentId) and "pubkey" (the
// base64 Ed25519 public key) properties per spec §6, and translating
// discovered/lost browse events into PeerEvents. Actually speaking
// mDNS is out of scope here; this type exists only so cmd/axond's run
// command can hold a []discovery.Source the shape a full build would have.
type MDNSSource struct {
	ServiceInstance string // advertised instance name, e.g. the configured agent name
}

// NewMDNSSource builds an MDNSSource advertising under instance.
func NewMDNSSource(instance string) *MDNSSource {
	return &MDNSSource{ServiceInstance: instance}
}

func (s *MDNSSource) Run(ctx context.Context) (<-chan PeerEvent, error) {
	return nil, errors.New("mdns discovery not implemented")
}
