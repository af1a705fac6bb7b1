package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	analyzeLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "monitor",
		Name:      "analyze_seconds",
		Help:      "Latency for analyzing one ingested operation.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	}, []string{"group"})

	resultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "results_total",
		Help:      "Monitor results emitted per issue kind.",
	}, []string{"issue"})

	detectorConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "conflicts_total",
		Help:      "Conflicts flagged per record group.",
	}, []string{"group"})

	causalityViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "causality_violations_total",
		Help:      "Operations whose declared predecessor contradicts their vector clock.",
	})

	skewObserved = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "monitor",
		Name:      "clock_skew_seconds",
		Help:      "Last observed wall-clock skew per replica.",
	}, []string{"replica"})

	resolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monitor",
		Name:      "resolutions_total",
		Help:      "Resolution attempts per strategy and outcome.",
	}, []string{"strategy", "status"})

	healthScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "monitor",
		Name:      "health_score",
		Help:      "Most recent aggregate sync health score.",
	})

	trackedReplicas = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "monitor",
		Name:      "tracked_replicas",
		Help:      "Replicas with a device sync state.",
	})

	tracer = otel.Tracer("github.com/example/sync-conflict-monitor/monitor")
)

func init() {
	prometheus.MustRegister(
		analyzeLatency,
		resultsTotal,
		detectorConflicts,
		causalityViolations,
		skewObserved,
		resolutionsTotal,
		healthScore,
		trackedReplicas,
	)
}
