// Package config loads and validates axond's configuration file
// (spec §6): daemon name, UDP port, advertise address, and the static
// peer list.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticPeer is one entry of the config's peers[] list.
type StaticPeer struct {
	AgentID string `yaml:"agent_id" json:"agent_id"`
	Addr    string `yaml:"addr" json:"addr"`
	Pubkey  string `yaml:"pubkey" json:"pubkey"`
}

// Config is the top-level config.yaml schema. Unknown fields are
// ignored by yaml.v3/encoding/json, satisfying forward compatibility.
type Config struct {
	Name          string       `yaml:"name" json:"name"`
	Port          int          `yaml:"port" json:"port"`
	AdvertiseAddr string       `yaml:"advertise_addr" json:"advertise_addr"`
	Peers         []StaticPeer `yaml:"peers" json:"peers"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	IPC     IPCConfig     `yaml:"ipc" json:"ipc"`
}

// LoggingConfig controls the ambient logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// MetricsConfig controls the Prometheus HTTP exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// IPCConfig controls the Unix-socket IPC server (spec §4.5).
type IPCConfig struct {
	HardenedMode bool `yaml:"hardened_mode" json:"hardened_mode"`
	MailboxSize  int  `yaml:"mailbox_size" json:"mailbox_size"`
	BufferSize   int  `yaml:"buffer_size" json:"buffer_size"`
}

const defaultPort = 7100

// setDefaults fills zero-valued fields the way the daemon needs them.
func setDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9600"
	}
	if cfg.IPC.MailboxSize == 0 {
		cfg.IPC.MailboxSize = 64
	}
	if cfg.IPC.BufferSize == 0 {
		cfg.IPC.BufferSize = 4096
	}
}

// LoadFromFile parses a YAML (or JSON) config file and fills defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	setDefaults(cfg)
	return cfg, nil
}
