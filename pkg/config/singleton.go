package config

import (
	"fmt"
	"sync/atomic"
)

// current is the process-wide configuration. Commands set it once the
// file is loaded and validated; reloads swap it.
var current atomic.Pointer[Config]

// GetConfig returns the process-wide configuration, or nil before SetConfig.
func GetConfig() *Config {
	return current.Load()
}

// SetConfig replaces the process-wide configuration.
func SetConfig(cfg *Config) {
	current.Store(cfg)
}

// MustGetConfig is GetConfig for callers that run after startup. It panics
// when no configuration has been set.
func MustGetConfig() *Config {
	cfg := current.Load()
	if cfg == nil {
		panic("config: no configuration set")
	}
	return cfg
}

// ReloadConfig loads path again. The process-wide configuration is swapped
// only when the file loads and validates; the previous one stays in effect
// otherwise.
func ReloadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}
	current.Store(cfg)
	return cfg, nil
}
