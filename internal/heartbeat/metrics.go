package heartbeat

import "github.com/prometheus/client_golang/prometheus"

var heartbeatsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "heartbeat",
	Name:      "received_total",
	Help:      "Heartbeats received per replica.",
}, []string{"replica"})

func init() {
	prometheus.MustRegister(heartbeatsTotal)
}
