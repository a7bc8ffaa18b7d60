package config

import (
	"time"
)

const DefaultFileName = "omniworker.toml"

type Config struct {
	Version       int           `toml:"version"`
	Build         Build         `toml:"build"`
	Pool          Pool          `toml:"pool"`
	Runtime       Runtime       `toml:"runtime"`
	Contract      Contract      `toml:"contract"`
	DB            Database      `toml:"db"`
	Watch         Watch         `toml:"watch"`
	Serve         Serve         `toml:"serve"`
	Observability Observability `toml:"observability"`
}

type Build struct {
	// ModuleRoot is resolved against the working directory.
	ModuleRoot       string   `toml:"module_root"`
	NodePathEnv      string   `toml:"node_path_env"`
	ExtraRoots       []string `toml:"extra_roots"`
	OutputExtension  string   `toml:"output_extension"`
	LocatorCacheSize int      `toml:"locator_cache_size"`
}

type Pool struct {
	Replicas          int  `toml:"replicas"`
	RebuildPerReplica bool `toml:"rebuild_per_replica"`
}

const (
	RuntimeEmbedded = "embedded"
	RuntimeNode     = "node"
)

type Runtime struct {
	Kind         string        `toml:"kind"`
	NodeBinary   string        `toml:"node_binary"`
	StartTimeout time.Duration `toml:"start_timeout"`
	StopTimeout  time.Duration `toml:"stop_timeout"`
}

type Contract struct {
	Name      string   `toml:"name"`
	Functions []string `toml:"functions"`
}

type Database struct {
	Enabled     bool          `toml:"enabled"`
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type Watch struct {
	Debounce     time.Duration `toml:"debounce"`
	ExcludeDirs  []string      `toml:"exclude_dirs"`
	ExcludeFiles []string      `toml:"exclude_files"`
}

type Serve struct {
	RateLimit RateLimit `toml:"rate_limit"`
}

type RateLimit struct {
	Enabled           bool `toml:"enabled"`
	RequestsPerMinute int  `toml:"requests_per_minute"`
	Burst             int  `toml:"burst"`
}

type Observability struct {
	Enabled       bool   `toml:"enabled"`
	Port          int    `toml:"port"`
	OTLPEndpoint  string `toml:"otlp_endpoint"`
	EnableTracing bool   `toml:"enable_tracing"`
	EnableMetrics bool   `toml:"enable_metrics"`
}

// DefaultConfig is used when no config file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
