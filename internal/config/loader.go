package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures Load.
type LoaderOptions struct {
	// StateRoot is the directory holding config.yaml (and everything
	// else under spec §6's state root layout).
	StateRoot string
	// SkipEnvSubstitution disables ${VAR} interpolation.
	SkipEnvSubstitution bool
}

// DefaultLoaderOptions returns the default loader options.
func DefaultLoaderOptions() LoaderOptions {
	home, _ := os.UserHomeDir()
	return LoaderOptions{
		StateRoot: filepath.Join(home, ".axon"),
	}
}

// Load loads config.yaml from the state root, applying env substitution
// and AXON_-prefixed overrides (highest priority). Missing config files
// yield the zero Config with defaults applied, matching the daemon's
// "works with no config file" baseline.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	path := filepath.Join(options.StateRoot, "config.yaml")
	cfg, err := loadConfigFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = &Config{}
		setDefaults(cfg)
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}
	applyEnvironmentOverrides(cfg)

	return cfg, nil
}

func loadConfigFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s: %w", path, os.ErrNotExist)
	}
	return LoadFromFile(path)
}

// MustLoad loads configuration or panics on error.
func MustLoad(opts ...LoaderOptions) *Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
