package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var (
	auditAppendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "audit",
		Name:      "append_seconds",
		Help:      "Latency for appending records to the audit log.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"record"})

	auditDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "audit",
		Name:      "dropped_operations_total",
		Help:      "Operations dropped because the persistence buffer was full.",
	})

	auditTracer = otel.Tracer("github.com/example/sync-conflict-monitor/storage")
)

func init() {
	prometheus.MustRegister(auditAppendLatency, auditDropped)
}
