package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omniworker_scan_seconds",
		Help:    "Time spent scanning a source module for import/require declarations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"flavor"})

	ReferencesScannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omniworker_references_scanned_total",
		Help: "Total number of module references extracted by the scanner.",
	}, []string{"kind"})

	ClassificationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omniworker_classification_total",
		Help: "Classification outcomes per module reference (classified, ambiguous, unmatched).",
	}, []string{"outcome"})

	LocatorWalkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "omniworker_locator_walk_seconds",
		Help:    "Time spent walking search roots for native binary addons.",
		Buckets: prometheus.DefBuckets,
	})

	LocatorCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omniworker_locator_cache_hits_total",
		Help: "Total number of binary locator lookups served from cache.",
	})

	LinesRewrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omniworker_lines_rewritten_total",
		Help: "Total number of declaration lines replaced with direct binary loads.",
	})

	BuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omniworker_build_seconds",
		Help:    "Time spent building a worker artifact.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omniworker_builds_total",
		Help: "Total number of worker builds by outcome.",
	}, []string{"outcome"})

	ContextsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "omniworker_contexts_active",
		Help: "Number of live execution contexts per launcher.",
	}, []string{"launcher"})

	PoolReplicas = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omniworker_pool_replicas",
		Help: "Number of replicas owned by ready pools.",
	})

	PoolDispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omniworker_pool_dispatch_total",
		Help: "Total number of proxies handed out per replica index.",
	}, []string{"replica"})

	RPCCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "omniworker_rpc_call_seconds",
		Help:    "Round-trip latency of remote function calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"function"})

	RPCCallFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omniworker_rpc_call_failures_total",
		Help: "Total number of remote function calls that failed.",
	}, []string{"function", "code"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omniworker_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	LedgerWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omniworker_ledger_writes_total",
		Help: "Build records written to the ledger by path (batched, inline) and outcome.",
	}, []string{"path", "outcome"})

	LedgerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "omniworker_ledger_queue_depth",
		Help: "Build records waiting to be written to the ledger.",
	})

	ReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omniworker_reloads_total",
		Help: "Total number of hot pool reloads by outcome.",
	}, []string{"outcome"})

	TransportRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omniworker_transport_requests_total",
		Help: "Total number of stdio JSON-RPC requests by method and status.",
	}, []string{"method", "status"})
)
