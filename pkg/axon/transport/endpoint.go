// Package transport implements the QUIC + mTLS endpoint: connection
// establishment bound to peer identity, initiator-rule deduplication,
// and the bidi request/response vs uni fire-and-forget stream model
// (spec §4.3).
package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/singleflight"

	"github.com/axon-project/axon/internal/axonerr"
	"github.com/axon-project/axon/internal/logger"
	"github.com/axon-project/axon/internal/metrics"
	"github.com/axon-project/axon/pkg/axon/identity"
	"github.com/axon-project/axon/pkg/axon/message"
)

// RequestTimeout bounds the bidi request/response round trip (spec §5).
const RequestTimeout = 30 * time.Second

// PinChecker is consulted by the mTLS verifier to reject certificates
// that disagree with a pinned peer pubkey. Satisfied by *peer.Table.
type PinChecker interface {
	ExpectedPubkey(agentID string) (string, bool)
}

// AutoResponder synthesizes a reply for an inbound bidi envelope when no
// application handler claims it (spec §4.6).
type AutoResponder func(req *message.Envelope) (*message.Envelope, error)

// Endpoint is a node's QUIC listener plus its table of active
// connections, keyed by AgentId.
type Endpoint struct {
	id         *identity.Identity
	listener   *quic.Listener
	pins       PinChecker
	autoRespond AutoResponder
	onInbound  func(env *message.Envelope)

	mu     sync.RWMutex
	active map[string]quic.Connection

	dialGroup singleflight.Group
}

// Config configures a new Endpoint.
type Config struct {
	Identity      *identity.Identity
	ListenAddr    string
	Pins          PinChecker
	AutoResponder AutoResponder
	// OnInbound is invoked for every successfully decoded inbound
	// envelope (uni or bidi), publishing it toward the daemon loop's
	// replay cache and IPC receive buffer.
	OnInbound func(env *message.Envelope)
}

// NewEndpoint binds a UDP socket and starts accepting inbound QUIC
// connections with mutual TLS required on both sides.
func NewEndpoint(ctx context.Context, cfg Config) (*Endpoint, error) {
	cert, err := cfg.Identity.MakeQUICCertificate()
	if err != nil {
		return nil, err
	}
	keyPair, err := tls.X509KeyPair(cert.CertPEM, cert.KeyPEM)
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "load QUIC certificate", err)
	}

	ep := &Endpoint{
		id:          cfg.Identity,
		pins:        cfg.Pins,
		autoRespond: cfg.AutoResponder,
		onInbound:   cfg.OnInbound,
		active:      make(map[string]quic.Connection),
	}

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{keyPair},
		ClientAuth:   tls.RequireAnyClientCert,
		NextProtos:   []string{"axon/1"},
		VerifyPeerCertificate: ep.verifyPeerCertificate,
		InsecureSkipVerify:    true, // identity is verified by VerifyPeerCertificate, not the CA chain
	}

	listener, err := quic.ListenAddr(cfg.ListenAddr, tlsConf, &quic.Config{
		MaxIdleTimeout:  60 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	})
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "bind QUIC listener", err)
	}
	ep.listener = listener

	go ep.acceptLoop(ctx)
	return ep, nil
}

// verifyPeerCertificate implements the mTLS verifier from spec §4.3:
// extract the Ed25519 SPKI, derive the AgentId, and reject a mismatch
// against any pin recorded for that AgentId. An unpinned peer is still
// accepted here; serveUniStream and serveBidiStream cross-check every
// envelope's from against this connection's cert-derived AgentId.
func (e *Endpoint) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return axonerr.New(axonerr.CodeAuthFailed, "no peer certificate presented")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return axonerr.Wrap(axonerr.CodeAuthFailed, "parse peer certificate", err)
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return axonerr.New(axonerr.CodeAuthFailed, "peer certificate SPKI is not Ed25519")
	}
	agentID := identity.DeriveAgentID(pub)
	spkiB64 := base64.StdEncoding.EncodeToString(pub)

	if e.pins != nil {
		if expected, pinned := e.pins.ExpectedPubkey(agentID); pinned && expected != spkiB64 {
			return axonerr.New(axonerr.CodeAuthFailed, fmt.Sprintf("certificate for %s does not match pinned pubkey", agentID))
		}
	}
	return nil
}

func (e *Endpoint) acceptLoop(ctx context.Context) {
	for {
		conn, err := e.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("QUIC accept failed", logger.Err(err))
			continue
		}
		agentID, err := e.remoteAgentID(conn)
		if err != nil {
			logger.Warn("rejecting inbound connection with unverifiable identity", logger.Err(err))
			conn.CloseWithError(0, "identity verification failed")
			continue
		}
		e.track(agentID, conn)
		go e.serveConnection(ctx, agentID, conn)
	}
}

func (e *Endpoint) remoteAgentID(conn quic.Connection) (string, error) {
	state := conn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return "", axonerr.New(axonerr.CodeAuthFailed, "peer presented no certificate")
	}
	return identity.ExtractSPKIAgentID(state.PeerCertificates[0])
}

func (e *Endpoint) track(agentID string, conn quic.Connection) {
	e.mu.Lock()
	e.active[agentID] = conn
	e.mu.Unlock()
	metrics.ActiveConnections.Set(float64(e.connectionCount()))
}

func (e *Endpoint) untrack(agentID string, conn quic.Connection) {
	e.mu.Lock()
	if e.active[agentID] == conn {
		delete(e.active, agentID)
	}
	e.mu.Unlock()
	metrics.ActiveConnections.Set(float64(e.connectionCount()))
}

func (e *Endpoint) connectionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// Connected reports whether an active connection to agentID exists.
func (e *Endpoint) Connected(agentID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.active[agentID]
	return ok
}

// ShouldInitiate applies the initiator rule from spec §4.3: the peer
// with the lexicographically smaller AgentId dials; the other side
// waits for an inbound connection instead of racing a simultaneous dial.
func ShouldInitiate(localAgentID, remoteAgentID string) bool {
	return localAgentID < remoteAgentID
}

// Dial establishes (or reuses) a connection to remoteAgentID at addr,
// deduplicating concurrent dials to the same peer via singleflight.
func (e *Endpoint) Dial(ctx context.Context, remoteAgentID, addr string) error {
	if e.Connected(remoteAgentID) {
		return nil
	}
	_, err, _ := e.dialGroup.Do(remoteAgentID, func() (interface{}, error) {
		if e.Connected(remoteAgentID) {
			metrics.DialDeduped.Inc()
			return nil, nil
		}
		return nil, e.dial(ctx, remoteAgentID, addr)
	})
	return err
}

func (e *Endpoint) dial(ctx context.Context, remoteAgentID, addr string) error {
	cert, err := e.id.MakeQUICCertificate()
	if err != nil {
		return err
	}
	keyPair, err := tls.X509KeyPair(cert.CertPEM, cert.KeyPEM)
	if err != nil {
		return axonerr.Wrap(axonerr.CodeInternal, "load dial certificate", err)
	}

	tlsConf := &tls.Config{
		Certificates:          []tls.Certificate{keyPair},
		NextProtos:            []string{"axon/1"},
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: e.verifyPeerCertificate,
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  60 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	})
	if err != nil {
		return axonerr.Wrap(axonerr.CodeTimeout, "dial peer", err)
	}

	gotAgentID, err := e.remoteAgentID(conn)
	if err != nil {
		conn.CloseWithError(0, "identity verification failed")
		return err
	}
	if gotAgentID != remoteAgentID {
		conn.CloseWithError(0, "unexpected peer identity")
		return axonerr.New(axonerr.CodeAuthFailed, fmt.Sprintf("dialed %s but peer asserted %s", remoteAgentID, gotAgentID))
	}

	e.track(gotAgentID, conn)
	go e.serveConnection(ctx, gotAgentID, conn)
	return nil
}

// serveConnection dispatches inbound streams until the connection closes.
func (e *Endpoint) serveConnection(ctx context.Context, agentID string, conn quic.Connection) {
	defer e.untrack(agentID, conn)

	go func() {
		for {
			uni, err := conn.AcceptUniStream(ctx)
			if err != nil {
				return
			}
			go e.serveUniStream(agentID, uni)
		}
	}()

	var wg sync.WaitGroup
	for {
		stream, err := conn.AcceptStream(ctx)
		if err == nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.serveBidiStream(agentID, stream)
			}()
			continue
		}
		break
	}
	wg.Wait()
}

// serveUniStream reads a fire-and-forget envelope to FIN, decodes,
// validates, and publishes it to the daemon loop.
func (e *Endpoint) serveUniStream(agentID string, stream io.Reader) {
	data, err := io.ReadAll(io.LimitReader(stream, message.MaxEnvelopeBytes+1))
	if err != nil {
		logger.Warn("failed reading uni stream", logger.String("peer", agentID), logger.Err(err))
		return
	}
	env, err := message.Decode(data)
	if err != nil {
		logger.Warn("dropping invalid uni envelope", logger.String("peer", agentID), logger.Err(err))
		return
	}
	if env.From != agentID {
		logger.Warn("dropping uni envelope with spoofed from", logger.String("peer", agentID), logger.String("from", env.From))
		return
	}
	metrics.MessagesTotal.WithLabelValues("inbound", "uni").Inc()
	if e.onInbound != nil {
		e.onInbound(env)
	}
}

// serveBidiStream reads a request envelope, publishes it upstream, runs
// the auto-responder, and writes the reply (an unknown_kind error when no
// auto-responder is set). There is no application handler hook.
func (e *Endpoint) serveBidiStream(agentID string, stream quic.Stream) {
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, message.MaxEnvelopeBytes+1))
	if err != nil {
		logger.Warn("failed reading bidi stream", logger.String("peer", agentID), logger.Err(err))
		return
	}

	env, err := message.Decode(data)
	if err != nil {
		e.writeErrorReply(stream, nil, axonerr.CodeInvalidEnvelope, err.Error())
		return
	}
	if env.From != agentID {
		logger.Warn("rejecting bidi envelope with spoofed from", logger.String("peer", agentID), logger.String("from", env.From))
		e.writeErrorReply(stream, env, axonerr.CodeAuthFailed, "from does not match connection identity")
		return
	}
	metrics.MessagesTotal.WithLabelValues("inbound", "bidi").Inc()
	if e.onInbound != nil {
		e.onInbound(env)
	}

	if e.autoRespond == nil {
		e.writeErrorReply(stream, env, axonerr.CodeUnknownKind, "no handler registered")
		return
	}

	reply, err := e.autoRespond(env)
	if err != nil {
		e.writeErrorReply(stream, env, axonerr.CodeOf(err), err.Error())
		return
	}
	encoded, err := reply.Encode()
	if err != nil {
		logger.Warn("failed to encode auto-response", logger.Err(err))
		return
	}
	if _, err := stream.Write(encoded); err != nil {
		logger.Warn("failed to write auto-response", logger.String("peer", agentID), logger.Err(err))
	}
}

func (e *Endpoint) writeErrorReply(stream quic.Stream, request *message.Envelope, code, detail string) {
	payload := map[string]string{"code": code, "detail": detail}
	var reply *message.Envelope
	var err error
	if request != nil {
		reply, err = message.Reply(request, message.KindError, payload, nowMillis())
	} else {
		reply, err = message.New(message.KindError, "", "", payload, nowMillis())
	}
	if err != nil {
		return
	}
	encoded, err := reply.Encode()
	if err != nil {
		return
	}
	_, _ = stream.Write(encoded)
}

// SendRequest opens a bidi stream, writes req, and waits up to
// RequestTimeout for a response whose ref_id matches req.id.
func (e *Endpoint) SendRequest(ctx context.Context, remoteAgentID string, req *message.Envelope) (*message.Envelope, error) {
	e.mu.RLock()
	conn, ok := e.active[remoteAgentID]
	e.mu.RUnlock()
	if !ok {
		return nil, axonerr.New(axonerr.CodePeerNotFound, "no active connection to "+remoteAgentID)
	}

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeTransportClosed, "open bidi stream", err)
	}
	defer stream.Close()

	encoded, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if _, err := stream.Write(encoded); err != nil {
		return nil, axonerr.Wrap(axonerr.CodeTransportClosed, "write request", err)
	}
	if err := stream.Close(); err != nil {
		return nil, axonerr.Wrap(axonerr.CodeTransportClosed, "close request send side", err)
	}

	data, err := io.ReadAll(io.LimitReader(stream, message.MaxEnvelopeBytes+1))
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeTimeout, "read response", err)
	}
	resp, err := message.Decode(data)
	if err != nil {
		return nil, err
	}
	if resp.RefID == nil || *resp.RefID != req.ID {
		return nil, axonerr.New(axonerr.CodeInvalidEnvelope, "response ref_id does not match request id")
	}
	metrics.MessagesTotal.WithLabelValues("outbound", "bidi").Inc()
	return resp, nil
}

// SendFireAndForget opens a uni stream, writes env, and closes it
// without waiting for any acknowledgement.
func (e *Endpoint) SendFireAndForget(ctx context.Context, remoteAgentID string, env *message.Envelope) error {
	e.mu.RLock()
	conn, ok := e.active[remoteAgentID]
	e.mu.RUnlock()
	if !ok {
		return axonerr.New(axonerr.CodePeerNotFound, "no active connection to "+remoteAgentID)
	}

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		return axonerr.Wrap(axonerr.CodeTransportClosed, "open uni stream", err)
	}
	defer stream.Close()

	encoded, err := env.Encode()
	if err != nil {
		return err
	}
	if _, err := stream.Write(encoded); err != nil {
		return axonerr.Wrap(axonerr.CodeTransportClosed, "write fire-and-forget envelope", err)
	}
	metrics.MessagesTotal.WithLabelValues("outbound", "uni").Inc()
	return nil
}

// Close shuts down the listener and all tracked connections.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	for agentID, conn := range e.active {
		conn.CloseWithError(0, "endpoint shutting down")
		delete(e.active, agentID)
	}
	e.mu.Unlock()
	return e.listener.Close()
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
