package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR} or ${VAR:default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} / ${VAR:default} with process env values.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// SubstituteEnvVarsInConfig rewrites the string fields that commonly carry
// ${VAR} references: name, advertise address, and per-peer addr/pubkey.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Name = SubstituteEnvVars(cfg.Name)
	cfg.AdvertiseAddr = SubstituteEnvVars(cfg.AdvertiseAddr)
	for i := range cfg.Peers {
		cfg.Peers[i].Addr = SubstituteEnvVars(cfg.Peers[i].Addr)
		cfg.Peers[i].Pubkey = SubstituteEnvVars(cfg.Peers[i].Pubkey)
	}
	cfg.Logging.Level = SubstituteEnvVars(cfg.Logging.Level)
	cfg.Metrics.Addr = SubstituteEnvVars(cfg.Metrics.Addr)
}

// applyEnvironmentOverrides applies AXON_-prefixed env vars, highest priority.
func applyEnvironmentOverrides(cfg *Config) {
	if v := os.Getenv("AXON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AXON_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if os.Getenv("AXON_METRICS_ENABLED") == "true" {
		cfg.Metrics.Enabled = true
	}
	if os.Getenv("AXON_METRICS_ENABLED") == "false" {
		cfg.Metrics.Enabled = false
	}
	if os.Getenv("AXON_IPC_HARDENED") == "true" {
		cfg.IPC.HardenedMode = true
	}
}
