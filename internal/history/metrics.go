package history

import "github.com/prometheus/client_golang/prometheus"

var (
	historyDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "history",
		Name:      "entries",
		Help:      "Retained operations per record group.",
	}, []string{"group"})

	historyAppends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Name:      "appends_total",
		Help:      "Operations accepted into the in-memory history.",
	}, []string{"group"})

	historyEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "history",
		Name:      "evictions_total",
		Help:      "Operations evicted when a group exceeded its cap.",
	}, []string{"group"})
)

func init() {
	prometheus.MustRegister(historyDepth, historyAppends, historyEvictions)
}
