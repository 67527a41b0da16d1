package connection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "serenity"

var (
	connected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connected",
			Help:      "Whether the persistent channel is considered alive (1) or not (0)",
		},
	)

	reconnectAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnect_attempts_total",
			Help:      "Total failed reconnect attempts",
		},
	)

	fallbackActivations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "fallback_activations_total",
			Help:      "Times the session switched to polling fallback",
		},
	)
)

func recordConnected(up bool) {
	if up {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

func recordReconnectAttempt() {
	reconnectAttempts.Inc()
}

func recordFallbackActivation() {
	fallbackActivations.Inc()
}
