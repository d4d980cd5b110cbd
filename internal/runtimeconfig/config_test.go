package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if path == "" {
		t.Fatal("expected config path")
	}
	if cfg.Runner != DefaultRunner {
		t.Fatalf("runner = %q, want %q", cfg.Runner, DefaultRunner)
	}
	if cfg.RelayPath != DefaultRelayPath {
		t.Fatalf("relay_path = %q", cfg.RelayPath)
	}
	if cfg.GracePeriod() != 5*time.Second {
		t.Fatalf("grace = %v", cfg.GracePeriod())
	}
	if cfg.CallTimeout() != 30*time.Second {
		t.Fatalf("call timeout = %v", cfg.CallTimeout())
	}
}

func TestLoadParsesAndDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	content := []byte("runner: podman\ncontainer: agent-sandbox\ngrace_seconds: 10\n")
	confDir := filepath.Join(dir, "outpost")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(confDir, "config.yaml"), content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runner != "podman" || cfg.Container != "agent-sandbox" {
		t.Fatalf("parsed config mismatch: %+v", cfg)
	}
	if cfg.GracePeriod() != 10*time.Second {
		t.Fatalf("grace = %v", cfg.GracePeriod())
	}
	// Unset fields still get defaults.
	if cfg.CallTimeoutSeconds != DefaultCallTimeoutSeconds {
		t.Fatalf("call_timeout_seconds = %d", cfg.CallTimeoutSeconds)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	confDir := filepath.Join(dir, "outpost")
	if err := os.MkdirAll(confDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(confDir, "config.yaml"), []byte("runner: [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "docker with container", cfg: Config{Runner: "docker", Container: "box"}},
		{name: "docker without container", cfg: Config{Runner: "docker"}, wantErr: true},
		{name: "local", cfg: Config{Runner: "local"}},
		{name: "unknown runner", cfg: Config{Runner: "ssh"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
