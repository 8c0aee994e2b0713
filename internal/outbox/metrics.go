package outbox

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "cpd_engine"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Compliance events published to Kafka, by event type.",
	}, []string{"event_type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Compliance events whose batch failed delivery, by event type.",
	}, []string{"event_type"})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Compliance events written to outbox_dlq, by topic.",
	}, []string{"topic"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time from claiming an outbox batch to marking it published.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, dlqCounter, batchDuration)
}

func countByType(counter *prometheus.CounterVec, messages []Message) {
	for _, msg := range messages {
		counter.WithLabelValues(msg.EventType).Inc()
	}
}
