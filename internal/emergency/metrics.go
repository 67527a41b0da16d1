package emergency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "serenity"

var (
	triggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "responses_triggered_total",
			Help:      "Emergency responses triggered by incident type",
		},
		[]string{"incident_type"},
	)

	finished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "responses_finished_total",
			Help:      "Emergency responses reaching a terminal status",
		},
		[]string{"status"},
	)

	autoApprovals = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "emergency",
			Name:      "auto_approvals_total",
			Help:      "Approval-gated responses released by timeout instead of a human",
		},
	)
)

func recordTriggered(incidentType string) {
	triggered.WithLabelValues(incidentType).Inc()
}

func recordCompleted(status string) {
	finished.WithLabelValues(status).Inc()
}

func recordAutoApproval() {
	autoApprovals.Inc()
}
