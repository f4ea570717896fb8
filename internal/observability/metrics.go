// Package observability provides metrics and tracing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts submissions by kind and result code.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staffdesk_submissions_total",
		Help: "Total number of request submissions by kind and result",
	}, []string{"kind", "result"})

	// DecisionsTotal counts decisions by kind, outcome and result code.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staffdesk_decisions_total",
		Help: "Total number of reviewer decisions by kind, outcome and result",
	}, []string{"kind", "outcome", "result"})

	// SideEffectFailures counts post-decision effects that did not go through.
	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staffdesk_side_effect_failures_total",
		Help: "Total number of failed post-decision side effects",
	}, []string{"effect"})

	// RoleChangesTotal counts direct role changes by action and result code.
	RoleChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staffdesk_role_changes_total",
		Help: "Total number of direct role changes by action and result",
	}, []string{"action", "result"})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staffdesk_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "staffdesk_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// ResultOK is the result label for successful operations. Failures use the error code.
const ResultOK = "ok"

// DatabaseMetrics records query latency for one table.
type DatabaseMetrics struct {
	table string
}

// NewDatabaseMetrics returns a DatabaseMetrics bound to table.
func NewDatabaseMetrics(table string) *DatabaseMetrics {
	return &DatabaseMetrics{table: table}
}

// ObserveQuery records the latency of a database query.
func (m *DatabaseMetrics) ObserveQuery(operation string, start time.Time) {
	DatabaseQueryLatency.WithLabelValues(operation, m.table).Observe(time.Since(start).Seconds())
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func (m *DatabaseMetrics) TrackQuery(operation string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, start)
	}
}
