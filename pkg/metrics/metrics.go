package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccessDecisions counts capability evaluations by resource type and outcome (allow|deny|error).
	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathlight_access_decisions_total",
			Help: "Total number of access decisions",
		},
		[]string{"resource_type", "result"},
	)

	// ResolverAnomalies counts resolver failures demoted to abstentions.
	ResolverAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathlight_resolver_anomalies_total",
			Help: "Resolver errors treated as abstentions during evaluation",
		},
		[]string{"kind"},
	)

	// AuditWriteFailures counts audit entries dropped after exhausting retries.
	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathlight_audit_write_failures_total",
			Help: "Audit entries that could not be persisted after retries",
		},
	)

	// AuditQueueDepth tracks the audit writer backlog.
	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pathlight_audit_queue_depth",
			Help: "Pending audit entries awaiting persistence",
		},
	)

	// RelationshipsExpired counts rows moved to expired by the maintenance sweep.
	RelationshipsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pathlight_relationships_expired_total",
			Help: "Relationships transitioned to expired by the sweep",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pathlight_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
