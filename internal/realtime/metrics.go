package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "serenity"

var (
	alertPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "alert_publishes_total",
			Help:      "Per-recipient alert publish outcomes",
		},
		[]string{"type", "outcome"},
	)

	degradedMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "degraded_mode",
			Help:      "Whether the session is served by polling fallback (1) or push (0)",
		},
	)
)

func recordAlertPublish(alertType, outcome string) {
	alertPublishes.WithLabelValues(alertType, outcome).Inc()
}

func recordDegradedMode(active bool) {
	if active {
		degradedMode.Set(1)
		return
	}
	degradedMode.Set(0)
}
