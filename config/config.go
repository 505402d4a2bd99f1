// Package config loads chatwire's configuration from an optional YAML
// file, with CLI flags layered on top by the caller.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is searched for from the working directory upward when
// no config file is given explicitly.
const DefaultFileName = "chatwire.yaml"

type Config struct {
	// Token is the chat platform bot token.
	Token string `yaml:"token"`
	// ChannelID is the single bridged channel.
	ChannelID string `yaml:"channel_id"`

	// Command and Args are the server process to spawn.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxMessageLen   int           `yaml:"max_message_len"`
	QueueDepth      int           `yaml:"queue_depth"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	UsePTY     bool   `yaml:"pty"`
	StatusAddr string `yaml:"status_addr"`
	StatePath  string `yaml:"state_file"`
}

func Default() Config {
	return Config{
		FlushInterval:   2 * time.Second,
		MaxMessageLen:   1900,
		QueueDepth:      64,
		ShutdownTimeout: 30 * time.Second,
		StatePath:       "chatwire-state.json",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.ChannelID == "" {
		return fmt.Errorf("channel ID is required")
	}
	if c.Command == "" {
		return fmt.Errorf("server command is required")
	}
	if c.MaxMessageLen < 64 {
		return fmt.Errorf("max message length %d is too small", c.MaxMessageLen)
	}
	return nil
}
