// Package runtimeconfig loads the host-side configuration: which sandbox
// runner to use, where the relay lives inside the sandbox, and the timing
// knobs for termination and transport.
package runtimeconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Runner selects the sandbox exec primitive: "docker", "podman", or
	// "local".
	Runner string `yaml:"runner"`
	// Container is the target container for docker/podman runners.
	Container string `yaml:"container"`
	// RelayPath is the in-sandbox path of the relay binary.
	RelayPath string `yaml:"relay_path"`
	// AgentSocket is the in-sandbox agent endpoint passed to the relay.
	AgentSocket string `yaml:"agent_socket"`
	// GraceSeconds is the agent-side wait between the graceful and the
	// forceful signal. It should match the agent's OUTPOST_GRACE_SECONDS;
	// the host widens its per-call timeout by it so a kill that rides out
	// the full grace period does not trip the transport deadline.
	GraceSeconds int64 `yaml:"grace_seconds"`
	// CallTimeoutSeconds bounds one host-side call round trip.
	CallTimeoutSeconds int64 `yaml:"call_timeout_seconds"`
	// HistoryDB overrides the run-history database path.
	HistoryDB string `yaml:"history_db"`
}

const (
	DefaultRunner             = "docker"
	DefaultRelayPath          = "/usr/local/bin/outpost-relay"
	DefaultGraceSeconds       = 5
	DefaultCallTimeoutSeconds = 30
)

func Path() (string, error) {
	configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if configHome != "" {
		return filepath.Join(configHome, "outpost", "config.yaml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "outpost", "config.yaml"), nil
}

// Load reads the config file if present. A missing file is not an error;
// defaults cover every field.
func Load() (Config, string, error) {
	path, err := Path()
	if err != nil {
		return Config{}, "", err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return applyDefaults(Config{}), path, nil
		}
		return Config{}, path, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, path, fmt.Errorf("parse %s: %w", path, err)
	}
	return applyDefaults(cfg), path, nil
}

func applyDefaults(cfg Config) Config {
	cfg.Runner = strings.TrimSpace(cfg.Runner)
	if cfg.Runner == "" {
		cfg.Runner = DefaultRunner
	}
	cfg.RelayPath = strings.TrimSpace(cfg.RelayPath)
	if cfg.RelayPath == "" {
		cfg.RelayPath = DefaultRelayPath
	}
	if cfg.GraceSeconds <= 0 {
		cfg.GraceSeconds = DefaultGraceSeconds
	}
	if cfg.CallTimeoutSeconds <= 0 {
		cfg.CallTimeoutSeconds = DefaultCallTimeoutSeconds
	}
	cfg.Container = strings.TrimSpace(cfg.Container)
	cfg.AgentSocket = strings.TrimSpace(cfg.AgentSocket)
	return cfg
}

// Validate rejects combinations the CLI cannot act on.
func (c Config) Validate() error {
	switch c.Runner {
	case "docker", "podman":
		if c.Container == "" {
			return fmt.Errorf("runner %q requires a container name", c.Runner)
		}
	case "local":
	default:
		return fmt.Errorf("unknown runner %q (expected docker, podman, or local)", c.Runner)
	}
	return nil
}

func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}
