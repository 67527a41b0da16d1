package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "serenity"

var openConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "open_connections",
		Help:      "Currently open websocket connections",
	},
)

func recordConnections(n int) {
	openConnections.Set(float64(n))
}
