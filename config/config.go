// Package config handles rhost.toml host configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level host configuration.
type Config struct {
	Transport Transport `toml:"transport"`
	Log       Log       `toml:"log"`
	Blobs     Blobs     `toml:"blobs"`
}

// Transport selects and tunes the client channel.
type Transport struct {
	// Kind is "pipe" (stdio) or "websocket".
	Kind string `toml:"kind"`
	// URL is the WebSocket endpoint to connect to (websocket kind only).
	URL string `toml:"url"`
	// HeartbeatSecs enables ping/pong keepalive when positive.
	HeartbeatSecs int `toml:"heartbeat-secs"`
}

// Log configures diagnostic output.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
	// Trace, when set, records all protocol traffic to this file.
	Trace string `toml:"trace"`
}

// Blobs selects the blob storage backend.
type Blobs struct {
	// Backend is "memory" or "sqlite".
	Backend string `toml:"backend"`
	// Path locates the database file (sqlite backend only).
	Path string `toml:"path"`
}

// Default returns the configuration used when no rhost.toml is present.
func Default() *Config {
	return &Config{
		Transport: Transport{Kind: "pipe", HeartbeatSecs: 30},
		Blobs:     Blobs{Backend: "memory"},
	}
}

// Load reads rhost.toml from dir, falling back to defaults when the file
// does not exist.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "rhost.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "pipe", "websocket":
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	if c.Transport.Kind == "websocket" && c.Transport.URL == "" {
		return fmt.Errorf("websocket transport requires a url")
	}
	switch c.Blobs.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown blob backend %q", c.Blobs.Backend)
	}
	if c.Blobs.Backend == "sqlite" && c.Blobs.Path == "" {
		return fmt.Errorf("sqlite blob backend requires a path")
	}
	return nil
}
