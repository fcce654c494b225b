package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "Duration of one sync engine polling cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"policy", "result"}, // policy: global, per_channel; result: success, error, busy
	)

	MessagesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_ingested_total",
			Help: "Messages persisted by the sync and backfill engines",
		},
		[]string{"category", "source"}, // source: poll, backfill
	)

	MessagesDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_duplicate_total",
			Help: "Inserts rejected as already-known message IDs",
		},
		[]string{"source"},
	)

	// Per-item insert failures skipped by the live path. These messages are
	// only recoverable via a backfill run, so this counter is the operator's
	// signal to schedule one.
	MessagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_skipped_total",
			Help: "Messages dropped by a cycle due to non-duplicate insert errors",
		},
		[]string{"source"},
	)

	Watermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_watermark_message_id",
			Help: "Highest message ID known to be ingested (global scope)",
		},
	)

	RepliesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_sent_total",
			Help: "Auto-replies dispatched to the backend",
		},
		[]string{"kind"}, // keyword category of the canned response
	)

	ReplySkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoreply_skipped_total",
			Help: "Backlog messages marked processed without a reply",
		},
		[]string{"reason"}, // team_member, not_allowlisted, retry_exhausted
	)

	ReplyDispatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "autoreply_dispatch_failures_total",
			Help: "Reply dispatch attempts that failed and were left for retry",
		},
	)

	BackendCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_latency_ms",
			Help:    "Odoo RPC call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"model", "method", "status"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"sql"},
	)
)

// RecordBackendCall records the latency of one Odoo RPC round trip.
func RecordBackendCall(model, method, status string, duration time.Duration) {
	BackendCallLatency.WithLabelValues(model, method, status).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery counts a slow query occurrence.
func IncrementSlowQuery(sql string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(sql).Inc()
}
