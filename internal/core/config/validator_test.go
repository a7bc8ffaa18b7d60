package config

import (
	"strings"
	"testing"
)

func hasError(errs []error, fragment string) bool {
	for _, err := range errs {
		if strings.Contains(err.Error(), fragment) {
			return true
		}
	}
	return false
}

func TestValidateDefaults(t *testing.T) {
	if errs := Validate(DefaultConfig()); len(errs) != 0 {
		t.Fatalf("expected default config to validate, got %v", errs)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.Replicas = 0
	cfg.Runtime.Kind = "deno"
	cfg.Build.OutputExtension = ".ts"

	errs := Validate(cfg)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	for _, fragment := range []string{
		"pool.replicas must be at least 1",
		"runtime.kind must be one of",
		"build.output_extension must be one of",
	} {
		if !hasError(errs, fragment) {
			t.Errorf("expected error containing %q, got %v", fragment, errs)
		}
	}
}

func TestValidateSections(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{"Version", func(c *Config) { c.Version = 2 }, "unsupported config version 2"},
		{"CacheSize", func(c *Config) { c.Build.LocatorCacheSize = -1 }, "locator_cache_size must not be negative"},
		{"NodePathEnv", func(c *Config) { c.Build.NodePathEnv = "NODE PATH" }, "not a valid environment variable name"},
		{"NodeBinary", func(c *Config) { c.Runtime.Kind = RuntimeNode; c.Runtime.NodeBinary = " " }, "runtime.node_binary must not be empty"},
		{"DBPath", func(c *Config) { c.DB.Enabled = true; c.DB.Path = "" }, "db.path must not be empty"},
		{"WatchGlob", func(c *Config) { c.Watch.ExcludeFiles = []string{"[unclosed"} }, "invalid watch exclude pattern"},
		{"RateLimit", func(c *Config) { c.Serve.RateLimit = RateLimit{Enabled: true, RequestsPerMinute: 10} }, "burst must be at least 1"},
		{"ObservabilityPort", func(c *Config) { c.Observability.Enabled = true; c.Observability.Port = 70000 }, "observability.port must be between"},
		{"Tracing", func(c *Config) {
			c.Observability.Enabled = true
			c.Observability.EnableTracing = true
		}, "otlp_endpoint must be set"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			errs := Validate(cfg)
			if !hasError(errs, tc.expected) {
				t.Fatalf("expected error containing %q, got %v", tc.expected, errs)
			}
		})
	}
}
