package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	normalize(&cfg)

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &cfg, nil
}

// LoadOrDefault falls back to DefaultConfig when path does not exist.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), false, nil
	}
	return nil, false, err
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}

	if strings.TrimSpace(cfg.Build.ModuleRoot) == "" {
		cfg.Build.ModuleRoot = "node_modules"
	}
	if strings.TrimSpace(cfg.Build.NodePathEnv) == "" {
		cfg.Build.NodePathEnv = "NODE_PATH"
	}
	if strings.TrimSpace(cfg.Build.OutputExtension) == "" {
		cfg.Build.OutputExtension = ".js"
	}
	if cfg.Build.LocatorCacheSize == 0 {
		cfg.Build.LocatorCacheSize = 256
	}

	if cfg.Pool.Replicas == 0 {
		cfg.Pool.Replicas = 1
	}

	if strings.TrimSpace(cfg.Runtime.Kind) == "" {
		cfg.Runtime.Kind = RuntimeEmbedded
	}
	if strings.TrimSpace(cfg.Runtime.NodeBinary) == "" {
		cfg.Runtime.NodeBinary = "node"
	}
	if cfg.Runtime.StartTimeout <= 0 {
		cfg.Runtime.StartTimeout = 10 * time.Second
	}
	if cfg.Runtime.StopTimeout <= 0 {
		cfg.Runtime.StopTimeout = 5 * time.Second
	}

	if strings.TrimSpace(cfg.DB.Path) == "" {
		cfg.DB.Path = ".omniworker/builds.db"
	}
	if cfg.DB.BusyTimeout <= 0 {
		cfg.DB.BusyTimeout = 2 * time.Second
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 300 * time.Millisecond
	}
	if len(cfg.Watch.ExcludeDirs) == 0 {
		cfg.Watch.ExcludeDirs = []string{"node_modules", ".git"}
	}

	if cfg.Serve.RateLimit.RequestsPerMinute == 0 {
		cfg.Serve.RateLimit.RequestsPerMinute = 600
	}
	if cfg.Serve.RateLimit.Burst == 0 {
		cfg.Serve.RateLimit.Burst = 20
	}

	if cfg.Observability.Port == 0 {
		cfg.Observability.Port = 9464
	}
}

func normalize(cfg *Config) {
	cfg.Runtime.Kind = strings.ToLower(strings.TrimSpace(cfg.Runtime.Kind))
	ext := strings.TrimSpace(cfg.Build.OutputExtension)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	cfg.Build.OutputExtension = ext

	functions := make([]string, 0, len(cfg.Contract.Functions))
	for _, fn := range cfg.Contract.Functions {
		if fn = strings.TrimSpace(fn); fn != "" {
			functions = append(functions, fn)
		}
	}
	cfg.Contract.Functions = functions
}
