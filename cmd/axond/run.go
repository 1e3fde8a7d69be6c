package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/axon-project/axon/internal/axonerr"
	"github.com/axon-project/axon/internal/config"
	"github.com/axon-project/axon/internal/logger"
	"github.com/axon-project/axon/internal/metrics"
	"github.com/axon-project/axon/pkg/axon/daemon"
	"github.com/axon-project/axon/pkg/axon/discovery"
	"github.com/axon-project/axon/pkg/axon/identity"
	"github.com/axon-project/axon/pkg/axon/ipc"
	"github.com/axon-project/axon/pkg/axon/message"
	"github.com/axon-project/axon/pkg/axon/peer"
	"github.com/axon-project/axon/pkg/axon/transport"
)

const (
	replayTTL       = 5 * time.Minute
	replayCapacity  = 100_000
	staleTTL        = 10 * time.Minute
	knownPeersFile  = "known_peers.json"
	replayCacheFile = "replay_cache.json"
)

var (
	flagStateRoot string
	flagConfig    string
	flagPort      int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the AXON daemon in the foreground",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&flagStateRoot, "state-root", "", "state root directory (default $HOME/.axon)")
	runCmd.Flags().StringVar(&flagConfig, "config", "", "path to config.yaml (default <state-root>/config.yaml)")
	runCmd.Flags().IntVar(&flagPort, "port", 0, "UDP port override")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stateRoot, err := resolveStateRoot(flagStateRoot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateRoot, 0700); err != nil {
		return axonerr.Wrap(axonerr.CodeInternal, "create state root", err)
	}

	if err := claimPIDFile(stateRoot); err != nil {
		return err
	}
	defer os.Remove(filepath.Join(stateRoot, "daemon.pid"))

	cfg, err := loadConfig(stateRoot)
	if err != nil {
		return err
	}
	logger.SetDefault(logger.NewDefault())
	if lvl, ok := parseLevel(cfg.Logging.Level); ok {
		logger.Default().SetLevel(lvl)
	}

	id, err := identity.LoadOrGenerate(stateRoot)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	logger.Info("identity ready", logger.String("agent_id", id.AgentID()))

	table := peer.NewTable()
	loadPeerTable(stateRoot, table)
	for _, p := range cfg.Peers {
		table.Upsert(p.AgentID, p.Addr, p.Pubkey, peer.SourceStatic)
		table.SetExpectedPeer(p.AgentID, p.Pubkey)
	}

	replay := daemon.NewReplayCache(replayTTL, replayCapacity)
	loadReplayCache(stateRoot, replay)

	d := daemon.New(daemon.Config{
		LocalAgentID: id.AgentID(),
		Table:        table,
		Replay:       replay,
	})

	port := cfg.Port
	if flagPort != 0 {
		port = flagPort
	}
	listenAddr := fmt.Sprintf("0.0.0.0:%d", port)

	ep, err := transport.NewEndpoint(ctx, transport.Config{
		Identity:   id,
		ListenAddr: listenAddr,
		Pins:       table,
		AutoResponder: transport.DefaultAutoResponder(transport.AutoResponderConfig{
			AgentName: cfg.Name,
			StartedAt: time.Now(),
		}),
		OnInbound: d.PublishInbound,
	})
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer ep.Close()

	d.SetDialer(ep)

	ipcServer, err := ipc.NewServer(ipc.Config{
		SocketPath:   filepath.Join(stateRoot, "axon.sock"),
		LocalAgentID: id.AgentID(),
		Token:        loadIPCToken(stateRoot),
		HardenedMode: cfg.IPC.HardenedMode,
		MailboxSize:  cfg.IPC.MailboxSize,
		BufferSize:   cfg.IPC.BufferSize,
		Peers:        &peerListerAdapter{table: table},
		Sender:       &senderAdapter{endpoint: ep},
	})
	if err != nil {
		return err
	}
	defer ipcServer.Close()

	d.SetPublisher(ipcServer)

	sources := []discovery.Source{
		discovery.NewStaticSource(staticPeersFrom(cfg.Peers)),
		discovery.NewMDNSSource(cfg.Name),
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Addr); err != nil {
				logger.Warn("metrics server stopped", logger.Err(err))
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error { return ipcServer.Run(gctx) })
	for _, src := range sources {
		g.Go(func() error { return pumpDiscovery(gctx, src, d) })
	}
	g.Go(func() error { return pruneStaleLoop(gctx, table) })

	logger.Info("axond started", logger.String("agent_id", id.AgentID()), logger.String("listen_addr", listenAddr))
	err = g.Wait()
	savePeerTable(stateRoot, table)
	saveReplayCache(stateRoot, replay)
	if err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

// pumpDiscovery feeds one source's PeerEvents to the daemon loop. A source
// that can't run at all (the mDNS stub) just logs and sits idle rather
// than tearing down the whole daemon over an optional discovery channel.
func pumpDiscovery(ctx context.Context, src discovery.Source, d *daemon.Daemon) error {
	events, err := src.Run(ctx)
	if err != nil {
		logger.Warn("discovery source unavailable", logger.Err(err))
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.PeerEvents() <- ev
		}
	}
}

func pruneStaleLoop(ctx context.Context, table *peer.Table) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			table.RemoveStale(staleTTL)
		}
	}
}

func staticPeersFrom(peers []config.StaticPeer) []discovery.StaticPeer {
	out := make([]discovery.StaticPeer, 0, len(peers))
	for _, p := range peers {
		out = append(out, discovery.StaticPeer{AgentID: p.AgentID, Addr: p.Addr, Pubkey: p.Pubkey})
	}
	return out
}

func resolveStateRoot(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", axonerr.Wrap(axonerr.CodeInternal, "resolve home directory", err)
	}
	return filepath.Join(home, ".axon"), nil
}

func loadConfig(stateRoot string) (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFromFile(flagConfig)
	}
	return config.Load(config.LoaderOptions{StateRoot: stateRoot})
}

// loadPeerTable restores known_peers.json into table, if present. A
// missing or unreadable file just starts with an empty table.
func loadPeerTable(stateRoot string, table *peer.Table) {
	data, err := os.ReadFile(filepath.Join(stateRoot, knownPeersFile))
	if err != nil {
		return
	}
	var snapshots []peer.Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		logger.Warn("ignoring malformed known_peers.json", logger.Err(err))
		return
	}
	table.Load(snapshots)
}

// savePeerTable persists table's current rows to known_peers.json.
func savePeerTable(stateRoot string, table *peer.Table) {
	data, err := json.Marshal(table.Export())
	if err != nil {
		logger.Warn("failed to marshal peer table for persistence", logger.Err(err))
		return
	}
	if err := os.WriteFile(filepath.Join(stateRoot, knownPeersFile), data, 0600); err != nil {
		logger.Warn("failed to persist known_peers.json", logger.Err(err))
	}
}

// loadReplayCache restores replay_cache.json into cache, if present.
func loadReplayCache(stateRoot string, cache *daemon.ReplayCache) {
	data, err := os.ReadFile(filepath.Join(stateRoot, replayCacheFile))
	if err != nil {
		return
	}
	var snapshots []daemon.Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		logger.Warn("ignoring malformed replay_cache.json", logger.Err(err))
		return
	}
	cache.Load(snapshots)
}

// saveReplayCache persists cache's current entries to replay_cache.json.
func saveReplayCache(stateRoot string, cache *daemon.ReplayCache) {
	data, err := json.Marshal(cache.Export())
	if err != nil {
		logger.Warn("failed to marshal replay cache for persistence", logger.Err(err))
		return
	}
	if err := os.WriteFile(filepath.Join(stateRoot, replayCacheFile), data, 0600); err != nil {
		logger.Warn("failed to persist replay_cache.json", logger.Err(err))
	}
}

func loadIPCToken(stateRoot string) string {
	data, err := os.ReadFile(filepath.Join(stateRoot, "ipc-token"))
	if err != nil {
		return ""
	}
	return string(data)
}

func parseLevel(s string) (logger.Level, bool) {
	switch s {
	case "debug":
		return logger.DebugLevel, true
	case "info":
		return logger.InfoLevel, true
	case "warn":
		return logger.WarnLevel, true
	case "error":
		return logger.ErrorLevel, true
	default:
		return logger.InfoLevel, false
	}
}

// claimPIDFile refuses to start if daemon.pid names a live process,
// and removes the file if the process is gone (spec §6).
func claimPIDFile(stateRoot string) error {
	path := filepath.Join(stateRoot, "daemon.pid")
	data, err := os.ReadFile(path)
	if err == nil {
		if pid, perr := strconv.Atoi(string(data)); perr == nil && processAlive(pid) {
			return axonerr.New(axonerr.CodeInternal, fmt.Sprintf("daemon.pid names live process %d; refusing to start", pid))
		}
		_ = os.Remove(path)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// peerListerAdapter projects the peer table into the IPC-facing summary
// shape without pulling the ipc package into peer's dependency set.
type peerListerAdapter struct {
	table *peer.Table
}

func (a *peerListerAdapter) ListPeers() []ipc.PeerSummary {
	rows := a.table.List()
	out := make([]ipc.PeerSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, ipc.PeerSummary{
			AgentID: r.AgentID,
			Addr:    r.Addr,
			Status:  r.Status.String(),
			Source:  r.Source.String(),
			RTTMs:   r.RTTMs,
		})
	}
	return out
}

// senderAdapter bridges ipc.Sender to *transport.Endpoint: request-like
// kinds go over a bidi stream and await a response; everything else is
// fire-and-forget.
type senderAdapter struct {
	endpoint *transport.Endpoint
}

func (a *senderAdapter) Send(ctx context.Context, to string, env *message.Envelope, isRequest bool) (*message.Envelope, error) {
	if isRequest {
		return a.endpoint.SendRequest(ctx, to, env)
	}
	return nil, a.endpoint.SendFireAndForget(ctx, to, env)
}
