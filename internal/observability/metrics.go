package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics are defined globally here, so every binary registers the
// full set and exports zero values for collectors it never touches.

// namespace defines the global prefix for all metrics (e.g., featuregate_...).
const namespace = "featuregate"

// lowLatencyBuckets defines custom buckets for in-memory operations (Data Plane).
// Standard buckets start at 5ms, which hides everything the snapshot does.
var lowLatencyBuckets = []float64{.0001, .0005, .001, .002, .005, .010, .025, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (HTTP)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of HTTP requests.
	// Metric: featuregate_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in Control Plane",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// ControlPlaneReqTotal counts the total number of HTTP requests.
	// Metric: featuregate_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in Control Plane",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// DATA PLANE (HTTP + gRPC)
	// -------------------------------------------------------------------------

	// DataPlaneReqDuration measures the latency of evaluation requests.
	// Metric: featuregate_data_plane_http_handling_seconds
	DataPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle evaluation HTTP requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "path"})

	// DataPlaneReqTotal counts evaluation requests.
	// Metric: featuregate_data_plane_http_requests_total
	DataPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "http_requests_total",
		Help:      "Total evaluation HTTP requests",
	}, []string{"method", "path", "code"})

	// DataPlaneGrpcTotal counts gRPC calls (health checks).
	// Metric: featuregate_data_plane_grpc_requests_total
	DataPlaneGrpcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "data_plane",
		Name:      "grpc_requests_total",
		Help:      "Total gRPC requests",
	}, []string{"method", "code"})

	// -------------------------------------------------------------------------
	// FLAG EVALUATION
	// -------------------------------------------------------------------------

	// FlagEvaluationsTotal counts single-flag decisions by the step that decided them.
	// Metric: featuregate_flags_evaluations_total
	FlagEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "evaluations_total",
		Help:      "Total flag evaluations by decision reason",
	}, []string{"reason"})

	// FlagEvaluationPanics counts evaluations that recovered from a panic and failed closed.
	FlagEvaluationPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flags",
		Name:      "evaluation_panics_total",
		Help:      "Total evaluations that recovered from a panic",
	})

	// --- Snapshot ---

	// SnapshotVersion is the local version of the compiled flag snapshot.
	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "version",
		Help:      "Local version of the compiled flag snapshot",
	})

	// SnapshotFlags is the number of flags in the current snapshot.
	SnapshotFlags = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "flags_count",
		Help:      "Number of flags in the compiled snapshot",
	})

	// SnapshotLastSuccess is the unix time of the last successful full reload.
	// Alert on time() - featuregate_snapshot_last_success_timestamp_seconds.
	SnapshotLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful snapshot reload",
	})

	// SnapshotStale is 1 while the service serves a snapshot whose last reload failed.
	SnapshotStale = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "stale",
		Help:      "1 when the last reload failed and the previous snapshot is served",
	})

	// SnapshotRefreshTotal counts full reloads by outcome.
	SnapshotRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "refresh_total",
		Help:      "Total snapshot reloads",
	}, []string{"status"}) // success, failure

	// SnapshotRefreshDuration measures how long a full reload takes.
	SnapshotRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "refresh_duration_seconds",
		Help:      "Time taken to reload and compile every flag",
		Buckets:   prometheus.DefBuckets,
	})

	// --- Projection cache (otter) ---

	ProjectionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "projection_cache",
		Name:      "hits_total",
		Help:      "Total per-subject available-flags cache hits",
	})

	ProjectionCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "projection_cache",
		Name:      "misses_total",
		Help:      "Total per-subject available-flags cache misses",
	})

	// ProjectionCacheItems tracks the number of cached subject lists.
	// Otter's S3-FIFO tracks item count efficiently, but not byte size.
	ProjectionCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "projection_cache",
		Name:      "items_count",
		Help:      "Current number of items in the projection cache",
	})

	// ProjectionCacheEvictions tracks lists removed due to capacity pressure.
	ProjectionCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "projection_cache",
		Name:      "evictions_total",
		Help:      "Total items evicted due to capacity",
	})

	// -------------------------------------------------------------------------
	// REGISTRY (Admin writes)
	// -------------------------------------------------------------------------

	// RegistryMutationsTotal counts admin writes by operation and outcome.
	// Metric: featuregate_registry_mutations_total
	RegistryMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "mutations_total",
		Help:      "Total flag mutations",
	}, []string{"op", "status"}) // status: success, validation, conflict, not_found, duplicate, error

	// RegistryRetriesTotal counts retries of transient storage failures.
	RegistryRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "registry",
		Name:      "retries_total",
		Help:      "Total retried storage calls",
	}, []string{"op"})

	// -------------------------------------------------------------------------
	// PROPAGATION (Pub/Sub + Syncer)
	// -------------------------------------------------------------------------

	InvalidationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagation",
		Name:      "published_total",
		Help:      "Total change notifications published to other instances",
	}, []string{"status"}) // success, failure

	InvalidationsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "propagation",
		Name:      "received_total",
		Help:      "Total change notifications received from other instances",
	}, []string{"status"}) // applied, self, malformed

	// SyncerResyncTotal counts reloads triggered by the syncer.
	// Metric: featuregate_syncer_resync_total
	SyncerResyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "resync_total",
		Help:      "Total snapshot reloads triggered by the syncer",
	}, []string{"trigger", "status"}) // trigger: startup, tick, notification

	// SyncerSubscribed is 1 while the syncer holds a live pub/sub subscription.
	SyncerSubscribed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "subscribed",
		Help:      "1 while the change subscription is active",
	})

	// -------------------------------------------------------------------------
	// DATABASE (pgxpool)
	// -------------------------------------------------------------------------

	// DatabasePoolConnections reports pool size by state.
	// Metric: featuregate_database_pool_connections{state="idle|in_use|total|max"}
	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Connection pool size by state",
	}, []string{"state"})

	// DatabasePoolAcquireCount mirrors pgxpool's cumulative successful acquires.
	DatabasePoolAcquireCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count",
		Help:      "Cumulative successful connection acquires",
	})

	// DatabasePoolWaitCount mirrors pgxpool's cumulative acquires that had to wait.
	DatabasePoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_empty_acquire_count",
		Help:      "Cumulative acquires that waited for a free connection",
	})
)
