// Package observability registers prometheus instrumentation for the
// event derivation pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activitiesEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "influence_backend",
		Subsystem: "ledger",
		Name:      "activities_emitted_total",
		Help:      "Number of activities appended to the ledger, labeled by event type.",
	}, []string{"event_type"})

	activitiesSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "influence_backend",
		Subsystem: "ledger",
		Name:      "activities_suppressed_total",
		Help:      "Number of meaningful changes dropped by the trust gate.",
	})

	lastAppendGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "influence_backend",
		Subsystem: "ledger",
		Name:      "last_activity_appended_timestamp_seconds",
		Help:      "Unix timestamp of the most recent ledger append.",
	})

	graphBuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "influence_backend",
		Subsystem: "graph",
		Name:      "build_duration_seconds",
		Help:      "Time spent scanning edges and aggregating the influence graph.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(activitiesEmitted, activitiesSuppressed, lastAppendGauge, graphBuildDuration)
}

// RecordActivityAppended counts a successful ledger append.
func RecordActivityAppended(eventType string, ts time.Time) {
	activitiesEmitted.WithLabelValues(eventType).Inc()
	if !ts.IsZero() {
		lastAppendGauge.Set(float64(ts.Unix()))
	}
}

// RecordActivitySuppressed counts a trust-gate rejection.
func RecordActivitySuppressed() {
	activitiesSuppressed.Inc()
}

// ObserveGraphBuild records one graph aggregation duration.
func ObserveGraphBuild(d time.Duration) {
	graphBuildDuration.Observe(d.Seconds())
}
