package feed

import "github.com/prometheus/client_golang/prometheus"

var (
	feedConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feed",
		Name:      "connections",
		Help:      "Active websocket feed subscribers.",
	})

	feedDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "results_delivered_total",
		Help:      "Monitor results delivered to feed subscribers.",
	})
)

func init() {
	prometheus.MustRegister(feedConnections, feedDelivered)
}
