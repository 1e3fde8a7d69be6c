package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0644))
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "name: node-a\n")

	cfg, err := Load(LoaderOptions{StateRoot: dir})
	require.NoError(t, err)
	require.Equal(t, "node-a", cfg.Name)
	require.Equal(t, defaultPort, cfg.Port)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, 64, cfg.IPC.MailboxSize)
	require.Equal(t, 4096, cfg.IPC.BufferSize)
}

func TestLoadMissingFileStillDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(LoaderOptions{StateRoot: dir})
	require.NoError(t, err)
	require.Equal(t, defaultPort, cfg.Port)
}

func TestLoadParsesPeers(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
name: node-a
port: 7200
peers:
  - agent_id: ed25519.aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
    addr: 127.0.0.1:7101
    pubkey: c2FtcGxlLXB1YmtleQ==
`)

	cfg, err := Load(LoaderOptions{StateRoot: dir})
	require.NoError(t, err)
	require.Equal(t, 7200, cfg.Port)
	require.Len(t, cfg.Peers, 1)
	require.Equal(t, "127.0.0.1:7101", cfg.Peers[0].Addr)
}

func TestLoadPropagatesMalformedFileError(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "name: [this is not valid yaml\n")

	_, err := Load(LoaderOptions{StateRoot: dir})
	require.Error(t, err)
}

func TestEnvVarOverrideWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "logging:\n  level: warn\n")

	t.Setenv("AXON_LOG_LEVEL", "debug")
	cfg, err := Load(LoaderOptions{StateRoot: dir})
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("AXON_TEST_NAME", "node-env")
	require.Equal(t, "node-env", SubstituteEnvVars("${AXON_TEST_NAME}"))
	require.Equal(t, "fallback", SubstituteEnvVars("${AXON_TEST_UNSET:fallback}"))
}
