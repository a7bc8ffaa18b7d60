package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
version = 1

[build]
extra_roots = ["vendor/node_modules"]
output_extension = "mjs"
locator_cache_size = 32

[pool]
replicas = 4
rebuild_per_replica = true

[runtime]
kind = "Node"
node_binary = "/usr/local/bin/node"
start_timeout = "3s"

[contract]
name = "math"
functions = ["add", " ", "subtract"]

[db]
enabled = true
path = "state/builds.db"

[watch]
debounce = "1s"
exclude_files = ["*.test.ts"]

[serve.rate_limit]
enabled = true
requests_per_minute = 120
burst = 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Pool.Replicas != 4 || !cfg.Pool.RebuildPerReplica {
		t.Errorf("unexpected pool section: %+v", cfg.Pool)
	}
	if cfg.Runtime.Kind != RuntimeNode {
		t.Errorf("expected runtime kind to be normalized to node, got %q", cfg.Runtime.Kind)
	}
	if cfg.Runtime.StartTimeout != 3*time.Second {
		t.Errorf("expected start timeout 3s, got %v", cfg.Runtime.StartTimeout)
	}
	if cfg.Runtime.StopTimeout != 5*time.Second {
		t.Errorf("expected default stop timeout 5s, got %v", cfg.Runtime.StopTimeout)
	}
	if cfg.Build.OutputExtension != ".mjs" {
		t.Errorf("expected output extension .mjs, got %q", cfg.Build.OutputExtension)
	}
	if cfg.Build.ModuleRoot != "node_modules" || cfg.Build.NodePathEnv != "NODE_PATH" {
		t.Errorf("unexpected build defaults: %+v", cfg.Build)
	}
	if len(cfg.Contract.Functions) != 2 || cfg.Contract.Functions[1] != "subtract" {
		t.Errorf("expected blank contract entries to be dropped, got %v", cfg.Contract.Functions)
	}
	if cfg.Watch.Debounce != time.Second {
		t.Errorf("expected debounce 1s, got %v", cfg.Watch.Debounce)
	}
	if len(cfg.Watch.ExcludeDirs) != 2 {
		t.Errorf("expected default exclude dirs, got %v", cfg.Watch.ExcludeDirs)
	}
	if cfg.Serve.RateLimit.RequestsPerMinute != 120 || cfg.Serve.RateLimit.Burst != 5 {
		t.Errorf("unexpected rate limit: %+v", cfg.Serve.RateLimit)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
[pool]
replicas = -2

[runtime]
kind = "bun"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, fragment := range []string{"pool.replicas", "runtime.kind"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("expected %q in %v", fragment, err)
		}
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected missing file to report found=false")
	}
	if cfg.Pool.Replicas != 1 || cfg.Runtime.Kind != RuntimeEmbedded || cfg.Pool.RebuildPerReplica {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	_, _, err = LoadOrDefault(writeConfig(t, "version = \"x\""))
	if err == nil {
		t.Fatal("expected decode error to propagate")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OMNIWORKER_POOL_REPLICAS", "8")
	t.Setenv("OMNIWORKER_RUNTIME_KIND", " NODE ")
	t.Setenv("OMNIWORKER_DB_ENABLED", "true")
	t.Setenv("OMNIWORKER_WATCH_DEBOUNCE", "750ms")
	t.Setenv("OMNIWORKER_OBSERVABILITY_PORT", "not-a-number")

	cfg := DefaultConfig()
	ApplyEnvOverrides(cfg)

	if cfg.Pool.Replicas != 8 {
		t.Errorf("expected replicas 8, got %d", cfg.Pool.Replicas)
	}
	if cfg.Runtime.Kind != RuntimeNode {
		t.Errorf("expected runtime node, got %q", cfg.Runtime.Kind)
	}
	if !cfg.DB.Enabled {
		t.Error("expected db enabled")
	}
	if cfg.Watch.Debounce != 750*time.Millisecond {
		t.Errorf("expected debounce 750ms, got %v", cfg.Watch.Debounce)
	}
	if cfg.Observability.Port != 9464 {
		t.Errorf("expected unparsable override to be ignored, got %d", cfg.Observability.Port)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "[pool]\nreplicas = 1\n")

	changes := make(chan *Config, 4)
	w := NewWatcher(path, func(cfg *Config) { changes <- cfg })
	if err := w.Start(t.Context()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("[pool]\nreplicas = 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		if cfg.Pool.Replicas != 3 {
			t.Fatalf("expected reloaded replicas 3, got %d", cfg.Pool.Replicas)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherReloadSkipsUnchangedAndInvalid(t *testing.T) {
	path := writeConfig(t, "[pool]\nreplicas = 2\n")

	var applied []*Config
	w := NewWatcher(path, func(cfg *Config) { applied = append(applied, cfg) })
	w.last = []byte("[pool]\nreplicas = 2\n")

	if err := w.reload(); !errors.Is(err, errUnchanged) {
		t.Fatalf("expected unchanged content to be skipped, got %v", err)
	}

	if err := os.WriteFile(path, []byte("[pool]\nreplicas = -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.reload(); err == nil {
		t.Fatal("expected invalid replicas to be rejected")
	}
	if len(applied) != 0 {
		t.Fatalf("expected no callback for rejected edits, got %d", len(applied))
	}

	if err := os.WriteFile(path, []byte("[pool]\nreplicas = 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(applied) != 1 || applied[0].Pool.Replicas != 5 {
		t.Fatalf("expected one applied config with 5 replicas, got %+v", applied)
	}
}
