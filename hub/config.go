// Copyright 2026 The Archbase Authors
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the hub server configuration, loadable from YAML.
type Config struct {
	// ListenAddr is the address the HTTP server binds, e.g. ":8787".
	ListenAddr string `yaml:"listenAddr"`

	// Path is the websocket endpoint path.
	Path string `yaml:"path"`

	// MaxMessageBytes caps a single inbound frame. Sync payloads carry
	// whole document states, so the default is generous.
	MaxMessageBytes int64 `yaml:"maxMessageBytes"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8787",
		Path:            "/ws",
		MaxMessageBytes: 4 << 20,
	}
}

// LoadConfig reads a YAML config file, filling unset fields with
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("hub: reading config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("hub: parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("hub: config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run
// with.
func (cfg Config) Validate() error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listenAddr must not be empty")
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("path %q must start with /", cfg.Path)
	}
	if cfg.MaxMessageBytes <= 0 {
		return fmt.Errorf("maxMessageBytes must be positive, got %d", cfg.MaxMessageBytes)
	}
	return nil
}
