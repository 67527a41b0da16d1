package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "serenity"

var eventsEmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "telemetry",
		Name:      "events_total",
		Help:      "Total telemetry events emitted by category",
	},
	[]string{"category"},
)

func recordEvent(category string) {
	eventsEmitted.WithLabelValues(category).Inc()
}
