package delivery

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "serenity"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "queue_size",
			Help:      "Number of messages in the queue by state",
		},
		[]string{"state"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "messages_total",
			Help:      "Total delivery attempts by outcome",
		},
		[]string{"category", "status"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Time to deliver a message",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"category"},
	)

	retriesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "retries_processed_total",
			Help:      "Total retry-table entries processed by the background sweep",
		},
	)
)

// recordDelivery records a delivery outcome metric.
func recordDelivery(category, status string) {
	deliveries.WithLabelValues(category, status).Inc()
}

// recordDeliveryDuration records delivery latency.
func recordDeliveryDuration(category string, duration time.Duration) {
	deliveryDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// recordRetriesProcessed records the number of retries handled in one sweep.
func recordRetriesProcessed(count int) {
	retriesProcessed.Add(float64(count))
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats QueueStats) {
	queueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	queueSize.WithLabelValues("retrying").Set(float64(stats.Retrying))
	queueSize.WithLabelValues("delivered").Set(float64(stats.Delivered))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
