package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Pattern: OMNIWORKER_[SECTION]_[KEY] (e.g., OMNIWORKER_POOL_REPLICAS).
func ApplyEnvOverrides(cfg *Config) {
	// Build
	setEnvString(&cfg.Build.ModuleRoot, "OMNIWORKER_BUILD_MODULE_ROOT")
	setEnvString(&cfg.Build.NodePathEnv, "OMNIWORKER_BUILD_NODE_PATH_ENV")
	setEnvString(&cfg.Build.OutputExtension, "OMNIWORKER_BUILD_OUTPUT_EXTENSION")
	setEnvInt(&cfg.Build.LocatorCacheSize, "OMNIWORKER_BUILD_LOCATOR_CACHE_SIZE")

	// Pool
	setEnvInt(&cfg.Pool.Replicas, "OMNIWORKER_POOL_REPLICAS")
	setEnvBool(&cfg.Pool.RebuildPerReplica, "OMNIWORKER_POOL_REBUILD_PER_REPLICA")

	// Runtime
	setEnvString(&cfg.Runtime.Kind, "OMNIWORKER_RUNTIME_KIND")
	setEnvString(&cfg.Runtime.NodeBinary, "OMNIWORKER_RUNTIME_NODE_BINARY")
	setEnvDuration(&cfg.Runtime.StartTimeout, "OMNIWORKER_RUNTIME_START_TIMEOUT")
	setEnvDuration(&cfg.Runtime.StopTimeout, "OMNIWORKER_RUNTIME_STOP_TIMEOUT")

	// Database
	setEnvBool(&cfg.DB.Enabled, "OMNIWORKER_DB_ENABLED")
	setEnvString(&cfg.DB.Path, "OMNIWORKER_DB_PATH")
	setEnvDuration(&cfg.DB.BusyTimeout, "OMNIWORKER_DB_BUSY_TIMEOUT")

	// Watch
	setEnvDuration(&cfg.Watch.Debounce, "OMNIWORKER_WATCH_DEBOUNCE")

	// Serve
	setEnvBool(&cfg.Serve.RateLimit.Enabled, "OMNIWORKER_SERVE_RATE_LIMIT_ENABLED")
	setEnvInt(&cfg.Serve.RateLimit.RequestsPerMinute, "OMNIWORKER_SERVE_RATE_LIMIT_REQUESTS_PER_MINUTE")
	setEnvInt(&cfg.Serve.RateLimit.Burst, "OMNIWORKER_SERVE_RATE_LIMIT_BURST")

	// Observability
	setEnvBool(&cfg.Observability.Enabled, "OMNIWORKER_OBSERVABILITY_ENABLED")
	setEnvInt(&cfg.Observability.Port, "OMNIWORKER_OBSERVABILITY_PORT")
	setEnvString(&cfg.Observability.OTLPEndpoint, "OMNIWORKER_OBSERVABILITY_OTLP_ENDPOINT")
	setEnvBool(&cfg.Observability.EnableTracing, "OMNIWORKER_OBSERVABILITY_ENABLE_TRACING")
	setEnvBool(&cfg.Observability.EnableMetrics, "OMNIWORKER_OBSERVABILITY_ENABLE_METRICS")

	normalize(cfg)
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		log.Printf("Applying env override: %s=%s", key, val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(strings.ToLower(val))
		if err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = b
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			log.Printf("Applying env override: %s=%s", key, val)
			*target = d
		}
	}
}
