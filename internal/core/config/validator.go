package config

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Validate runs every section check and collects the failures.
func Validate(cfg *Config) []error {
	checks := []func(*Config) error{
		validateVersion,
		validateBuild,
		validatePool,
		validateRuntime,
		validateDatabase,
		validateWatch,
		validateServe,
		validateObservability,
	}
	var errs []error
	for _, check := range checks {
		if err := check(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validateVersion(cfg *Config) error {
	if cfg.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", cfg.Version)
	}
	if cfg.Version > 1 {
		return fmt.Errorf("unsupported config version %d; supported version is 1", cfg.Version)
	}
	return nil
}

func validateBuild(cfg *Config) error {
	switch cfg.Build.OutputExtension {
	case ".js", ".mjs", ".cjs":
	default:
		return fmt.Errorf("build.output_extension must be one of: .js, .mjs, .cjs, got %q", cfg.Build.OutputExtension)
	}
	if cfg.Build.LocatorCacheSize < 0 {
		return fmt.Errorf("build.locator_cache_size must not be negative")
	}
	if strings.ContainsAny(cfg.Build.NodePathEnv, " =\t") {
		return fmt.Errorf("build.node_path_env %q is not a valid environment variable name", cfg.Build.NodePathEnv)
	}
	return nil
}

func validatePool(cfg *Config) error {
	if cfg.Pool.Replicas < 1 {
		return fmt.Errorf("pool.replicas must be at least 1, got %d", cfg.Pool.Replicas)
	}
	return nil
}

func validateRuntime(cfg *Config) error {
	switch cfg.Runtime.Kind {
	case RuntimeEmbedded, RuntimeNode:
	default:
		return fmt.Errorf("runtime.kind must be one of: embedded, node")
	}
	if cfg.Runtime.Kind == RuntimeNode && strings.TrimSpace(cfg.Runtime.NodeBinary) == "" {
		return fmt.Errorf("runtime.node_binary must not be empty when runtime.kind=node")
	}
	return nil
}

func validateDatabase(cfg *Config) error {
	if cfg.DB.Enabled && strings.TrimSpace(cfg.DB.Path) == "" {
		return fmt.Errorf("db.path must not be empty")
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	for _, pattern := range append(append([]string(nil), cfg.Watch.ExcludeDirs...), cfg.Watch.ExcludeFiles...) {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid watch exclude pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func validateServe(cfg *Config) error {
	rl := cfg.Serve.RateLimit
	if !rl.Enabled {
		return nil
	}
	if rl.RequestsPerMinute < 1 {
		return fmt.Errorf("serve.rate_limit.requests_per_minute must be at least 1")
	}
	if rl.Burst < 1 {
		return fmt.Errorf("serve.rate_limit.burst must be at least 1")
	}
	return nil
}

func validateObservability(cfg *Config) error {
	if !cfg.Observability.Enabled {
		return nil
	}
	if cfg.Observability.Port < 1 || cfg.Observability.Port > 65535 {
		return fmt.Errorf("observability.port must be between 1 and 65535")
	}
	if cfg.Observability.EnableTracing && strings.TrimSpace(cfg.Observability.OTLPEndpoint) == "" {
		return fmt.Errorf("observability.otlp_endpoint must be set when tracing is enabled")
	}
	return nil
}
