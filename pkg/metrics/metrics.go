// Package metrics exposes the prometheus client_golang registry every
// Golem service publishes at /metrics, in the same style as the teacher's
// pkg/metrics: package-level collector vars, a single init() registering
// all of them, and a Timer helper for histogram observations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker lifecycle metrics.
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "golem_workers_total",
			Help: "Total number of workers known to this executor, by status",
		},
		[]string{"status"},
	)

	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_invocations_total",
			Help: "Total number of invocations processed, by outcome",
		},
		[]string{"outcome"},
	)

	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "golem_invocation_duration_seconds",
			Help:    "Time taken to execute a single invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"function"},
	)

	InvocationQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "golem_invocation_queue_depth",
			Help: "Number of invocations currently queued per worker",
		},
		[]string{"component"},
	)

	// Oplog metrics.
	OplogAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_oplog_append_duration_seconds",
			Help:    "Time taken to append a single oplog entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	OplogEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_oplog_entries_total",
			Help: "Total number of oplog entries appended, by entry kind",
		},
		[]string{"kind"},
	)

	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_replay_duration_seconds",
			Help:    "Time taken to replay a worker's oplog to rebuild its in-memory state",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Snapshot / compaction metrics.
	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_snapshots_total",
			Help: "Total number of snapshots taken, by trigger (periodic, invocation-count, explicit)",
		},
		[]string{"trigger"},
	)

	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_snapshot_duration_seconds",
			Help:    "Time taken to write a snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Shard manager metrics.
	ShardsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golem_shards_total",
			Help: "Total number of shards in the routing table",
		},
	)

	ShardsUnassigned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golem_shards_unassigned",
			Help: "Number of shards not currently assigned to any pod",
		},
	)

	PodsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "golem_shard_manager_pods_total",
			Help: "Total number of worker executor pods registered with the shard manager",
		},
	)

	RebalanceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "golem_rebalance_duration_seconds",
			Help:    "Time taken to compute and apply a rebalance plan",
			Buckets: prometheus.DefBuckets,
		},
	)

	RebalanceOperationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "golem_rebalance_operations_total",
			Help: "Total number of shard reassignments performed by rebalancing",
		},
	)

	HealthCheckFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_health_check_failures_total",
			Help: "Total number of failed pod health checks, by pod",
		},
		[]string{"pod"},
	)

	// Worker proxy metrics.
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_worker_proxy_requests_total",
			Help: "Total number of worker proxy requests, by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	ProxyRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "golem_worker_proxy_request_duration_seconds",
			Help:    "Worker proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	ProxyCircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "golem_worker_proxy_circuit_breaker_state",
			Help: "Circuit breaker state per pod (0=closed, 1=half-open, 2=open)",
		},
		[]string{"pod"},
	)

	// RPC server metrics.
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "golem_rpc_requests_total",
			Help: "Total number of RPC requests served, by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "golem_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		WorkersTotal,
		InvocationsTotal,
		InvocationDuration,
		InvocationQueueDepth,
		OplogAppendDuration,
		OplogEntriesTotal,
		ReplayDuration,
		SnapshotsTotal,
		SnapshotDuration,
		ShardsTotal,
		ShardsUnassigned,
		PodsTotal,
		RebalanceDuration,
		RebalanceOperationsTotal,
		HealthCheckFailuresTotal,
		ProxyRequestsTotal,
		ProxyRequestDuration,
		ProxyCircuitBreakerState,
		RPCRequestsTotal,
		RPCRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
