// Package ipc implements the Unix-socket IPC protocol: the hello/auth
// handshake, version negotiation, command/reply routing, and the
// per-consumer receive buffer with subscribe/inbox/ack (spec §4.5).
package ipc

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axon-project/axon/internal/axonerr"
	"github.com/axon-project/axon/internal/logger"
	"github.com/axon-project/axon/internal/metrics"
	"github.com/axon-project/axon/pkg/axon/message"
)

// MaxLineBytes is the max IPC line length (spec §5).
const MaxLineBytes = 65536

var hexToken64 = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Sender dispatches an outbound "send" command to the transport layer;
// satisfied by an adapter over *transport.Endpoint.
type Sender interface {
	Send(ctx context.Context, to string, env *message.Envelope, isRequest bool) (*message.Envelope, error)
}

// PeerLister exposes peer table snapshots for the "peers"/"status" commands.
type PeerLister interface {
	ListPeers() []PeerSummary
}

// PeerSummary is the JSON-facing projection of a peer table row.
type PeerSummary struct {
	AgentID string `json:"agent_id"`
	Addr    string `json:"addr"`
	Status  string `json:"status"`
	Source  string `json:"source"`
	RTTMs   *int64 `json:"rtt_ms,omitempty"`
}

// Config configures a new Server.
type Config struct {
	SocketPath   string
	LocalAgentID string
	Token        string // empty disables token auth; SO_PEERCRED still applies
	HardenedMode bool
	MailboxSize  int
	BufferSize   int
	Peers        PeerLister
	Sender       Sender
}

// Server is the IPC accept loop plus the shared receive buffer.
type Server struct {
	cfg      Config
	listener *net.UnixListener
	buffer   *ReceiveBuffer

	mu       sync.Mutex
	clients  map[uint64]*client
	nextID   uint64
}

// NewServer binds the Unix socket (mode 0600, parent dir auto-created).
func NewServer(cfg Config) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0700); err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "create IPC socket directory", err)
	}
	_ = os.Remove(cfg.SocketPath)

	addr, err := net.ResolveUnixAddr("unix", cfg.SocketPath)
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "resolve IPC socket address", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "bind IPC socket", err)
	}
	if err := os.Chmod(cfg.SocketPath, 0600); err != nil {
		return nil, axonerr.Wrap(axonerr.CodeInternal, "chmod IPC socket", err)
	}

	if cfg.MailboxSize == 0 {
		cfg.MailboxSize = 64
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 4096
	}

	return &Server{
		cfg:      cfg,
		listener: listener,
		buffer:   NewReceiveBuffer(cfg.BufferSize),
		clients:  make(map[uint64]*client),
	}, nil
}

// Publish implements daemon.Publisher: push to the buffer, then to every
// live subscriber whose filter matches, dropping on a full mailbox.
func (s *Server) Publish(env *message.Envelope) {
	s.buffer.Publish(env)
	seq := s.buffer.HighestSeq()

	encoded, err := env.Encode()
	if err != nil {
		return
	}

	s.mu.Lock()
	snapshot := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	for _, c := range snapshot {
		if !c.subscribed(env.Kind) {
			continue
		}
		evt := inboundEventV2{Type: "event", Seq: seq, Envelope: encoded}
		line, err := json.Marshal(evt)
		if err != nil {
			continue
		}
		select {
		case c.mailbox <- line:
			s.buffer.AdvanceDelivered(c.consumer, seq)
		default:
			metrics.IPCMailboxDrops.Inc()
		}
	}
}

// Run accepts connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return axonerr.Wrap(axonerr.CodeInternal, "IPC accept failed", err)
		}
		c := s.newClient(conn)
		go s.serveClient(ctx, c)
	}
}

// client is per-connected-socket state (spec §3 "Client state").
type client struct {
	id            uint64
	conn          *net.UnixConn
	version       int32 // atomic: negotiated protocol version, 1 until hello
	consumer      string
	authenticated int32 // atomic bool
	mailbox       chan []byte

	mu          sync.Mutex
	live bool
	kinds       []string // nil = no filter
}

func (c *client) subscribed(kind message.Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.live {
		return false
	}
	if c.kinds == nil {
		return true
	}
	for _, k := range c.kinds {
		if k == string(kind) {
			return true
		}
	}
	return false
}

func (s *Server) newClient(conn *net.UnixConn) *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := &client{
		id:      s.nextID,
		conn:    conn,
		version: ProtocolVersion1,
		mailbox: make(chan []byte, s.cfg.MailboxSize),
	}
	if uid, ok := peerUID(conn); ok && uid == processUID {
		atomic.StoreInt32(&c.authenticated, 1)
	}
	s.clients[c.id] = c
	metrics.IPCClients.Set(float64(len(s.clients)))
	return c
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	metrics.IPCClients.Set(float64(len(s.clients)))
	s.mu.Unlock()
}

func (s *Server) serveClient(ctx context.Context, c *client) {
	defer s.removeClient(c)
	defer c.conn.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for line := range c.mailbox {
			if _, err := c.conn.Write(append(line, '\n')); err != nil {
				return
			}
		}
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 4096), MaxLineBytes+1)

	defer func() {
		if err := scanner.Err(); err != nil {
			logger.Warn("IPC client connection read failed", logger.Uint64("client_id", c.id), logger.Err(err))
		}
	}()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > MaxLineBytes {
			s.writeReply(c, errReply(command{}, axonerr.CodeCommandTooLarge, "line exceeds 64 KiB"))
			break
		}
		var cmd command
		if err := json.Unmarshal(line, &cmd); err != nil {
			s.writeReply(c, errReply(command{}, axonerr.CodeInvalidCommand, err.Error()))
			continue
		}
		s.dispatch(ctx, c, cmd)
	}
	if errors.Is(scanner.Err(), bufio.ErrTooLong) {
		s.writeReply(c, errReply(command{}, axonerr.CodeCommandTooLarge, "line exceeds 64 KiB"))
	}

	close(c.mailbox)
	select {
	case <-writerDone:
	case <-time.After(time.Second):
	}
}

func (s *Server) writeReply(c *client, r reply) {
	encoded, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case c.mailbox <- encoded:
	default:
		metrics.IPCMailboxDrops.Inc()
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, cmd command) {
	outcome := "ok"
	defer func() { metrics.IPCCommandsTotal.WithLabelValues(cmd.Cmd, outcome).Inc() }()

	authenticated := atomic.LoadInt32(&c.authenticated) == 1
	if !authenticated && cmd.Cmd != "hello" && cmd.Cmd != "auth" && cmd.Cmd != "whoami" {
		outcome = "error"
		s.writeReply(c, errReply(cmd, axonerr.CodeNotAuthenticated, "authenticate with hello/auth first"))
		return
	}

	version := int(atomic.LoadInt32(&c.version))
	if version == ProtocolVersion2 && cmd.ReqID == "" {
		outcome = "error"
		s.writeReply(c, errReply(cmd, axonerr.CodeInvalidCommand, "req_id is required on a v2 session"))
		return
	}

	switch cmd.Cmd {
	case "hello":
		s.handleHello(c, cmd)
	case "auth":
		s.handleAuth(c, cmd)
	case "whoami":
		s.writeReply(c, reply{Cmd: cmd.Cmd, ReqID: cmd.ReqID, OK: true, Data: map[string]string{
			"agent_id": s.cfg.LocalAgentID, "consumer": c.consumer,
		}})
	case "peers":
		s.handlePeers(c, cmd)
	case "status":
		s.handleStatus(c, cmd)
	case "send":
		s.handleSend(ctx, c, cmd)
	case "subscribe":
		s.handleSubscribe(c, cmd)
	case "inbox":
		s.handleInbox(c, cmd)
	case "ack":
		s.handleAck(c, cmd)
	default:
		outcome = "error"
		s.writeReply(c, errReply(cmd, axonerr.CodeInvalidCommand, fmt.Sprintf("unknown command %q", cmd.Cmd)))
	}
}

func (s *Server) handleHello(c *client, cmd command) {
	negotiated := cmd.Version
	if negotiated <= 0 {
		negotiated = ProtocolVersion1
	}
	if negotiated > daemonMaxVersion {
		negotiated = daemonMaxVersion
	}
	if s.cfg.HardenedMode && negotiated < ProtocolVersion2 {
		s.writeReply(c, errReply(cmd, axonerr.CodeUnsupportedVersion, "hardened mode requires protocol v2"))
		return
	}
	atomic.StoreInt32(&c.version, int32(negotiated))
	c.consumer = cmd.Consumer
	if len(c.consumer) > 64 {
		c.consumer = c.consumer[:64]
	}
	s.writeReply(c, reply{Cmd: cmd.Cmd, ReqID: cmd.ReqID, OK: true, Data: map[string]int{"version": negotiated}})
}

func (s *Server) handleAuth(c *client, cmd command) {
	if s.cfg.Token == "" {
		atomic.StoreInt32(&c.authenticated, 1)
		s.writeReply(c, okReply(cmd))
		return
	}
	if !hexToken64.MatchString(cmd.Token) {
		s.writeReply(c, errReply(cmd, axonerr.CodeAuthFailed, "token must be exactly 64 hex characters"))
		return
	}
	want, err1 := hex.DecodeString(s.cfg.Token)
	got, err2 := hex.DecodeString(cmd.Token)
	if err1 != nil || err2 != nil || subtle.ConstantTimeCompare(want, got) != 1 {
		s.writeReply(c, errReply(cmd, axonerr.CodeAuthFailed, "token mismatch"))
		return
	}
	atomic.StoreInt32(&c.authenticated, 1)
	s.writeReply(c, okReply(cmd))
}

func (s *Server) handlePeers(c *client, cmd command) {
	var peers []PeerSummary
	if s.cfg.Peers != nil {
		peers = s.cfg.Peers.ListPeers()
	}
	s.writeReply(c, reply{Cmd: cmd.Cmd, ReqID: cmd.ReqID, OK: true, Data: map[string]interface{}{"peers": peers}})
}

func (s *Server) handleStatus(c *client, cmd command) {
	s.writeReply(c, reply{Cmd: cmd.Cmd, ReqID: cmd.ReqID, OK: true, Data: map[string]interface{}{
		"agent_id": s.cfg.LocalAgentID,
		"clients":  len(s.clients),
	}})
}

func (s *Server) handleSend(ctx context.Context, c *client, cmd command) {
	if s.cfg.Sender == nil {
		s.writeReply(c, errReply(cmd, axonerr.CodeInternal, "transport not wired"))
		return
	}
	env, err := message.New(message.Kind(cmd.Kind), s.cfg.LocalAgentID, cmd.To, rawOrEmptyObject(cmd.Payload), uint64(time.Now().UnixMilli()))
	if err != nil {
		s.writeReply(c, errReply(cmd, axonerr.CodeInvalidEnvelope, err.Error()))
		return
	}

	isRequest := cmd.Kind == string(message.KindRequest) || cmd.Kind == string(message.KindQuery)
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.cfg.Sender.Send(sendCtx, cmd.To, env, isRequest)
	if err != nil {
		code := axonerr.CodeOf(err)
		if sendCtx.Err() != nil {
			code = axonerr.CodeTimeout
		}
		s.writeReply(c, errReply(cmd, code, err.Error()))
		return
	}

	data := map[string]interface{}{"ok": true, "msg_id": env.ID.String()}
	if resp != nil {
		data["response"] = resp
	}
	s.writeReply(c, reply{Cmd: cmd.Cmd, ReqID: cmd.ReqID, OK: true, Data: data})
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

func (s *Server) handleSubscribe(c *client, cmd command) {
	c.mu.Lock()
	c.live = true
	if len(cmd.Kinds) > 0 {
		c.kinds = cmd.Kinds
	} else {
		c.kinds = nil
	}
	c.mu.Unlock()

	replayToSeq := s.buffer.HighestSeq()
	count := 0
	if cmd.Replay {
		events := s.buffer.ReplayTo(c.consumer, replayToSeq, cmd.Kinds)
		for _, e := range events {
			encoded, err := e.Envelope.Encode()
			if err != nil {
				continue
			}
			evt := inboundEventV2{Type: "event", Seq: e.Seq, Replay: true, Envelope: encoded}
			line, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			select {
			case c.mailbox <- line:
				count++
			default:
				metrics.IPCMailboxDrops.Inc()
			}
		}
	}
	s.writeReply(c, reply{Cmd: cmd.Cmd, ReqID: cmd.ReqID, OK: true, Data: map[string]interface{}{
		"replay_to_seq": replayToSeq, "replayed": count,
	}})
}

func (s *Server) handleInbox(c *client, cmd command) {
	limit := cmd.Limit
	if limit <= 0 {
		limit = 100
	}
	events, nextSeq, hasMore := s.buffer.Inbox(c.consumer, limit, cmd.Kinds)
	s.writeReply(c, reply{Cmd: cmd.Cmd, ReqID: cmd.ReqID, OK: true, Data: map[string]interface{}{
		"events": events, "next_seq": nextSeq, "has_more": hasMore,
	}})
}

func (s *Server) handleAck(c *client, cmd command) {
	if !s.buffer.Ack(c.consumer, cmd.UpToSeq) {
		s.writeReply(c, errReply(cmd, axonerr.CodeAckOutOfRange, "up_to_seq is outside the buffer's retained range"))
		return
	}
	s.writeReply(c, okReply(cmd))
}

// Close shuts down the listener.
func (s *Server) Close() error {
	return s.listener.Close()
}
