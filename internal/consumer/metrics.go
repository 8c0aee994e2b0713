package consumer

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	auditedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cpd_engine",
		Subsystem: "audit",
		Name:      "events_logged_total",
		Help:      "Compliance events written to the audit log.",
	}, []string{"event_type"})

	auditLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cpd_engine",
		Subsystem: "audit",
		Name:      "event_lag_seconds",
		Help:      "Time from a compliance event reaching Kafka to its audit entry.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cpd_engine",
		Subsystem: "audit",
		Name:      "handler_errors_total",
		Help:      "Compliance events left uncommitted because the audit write failed.",
	}, []string{"event_type"})

	rejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cpd_engine",
		Subsystem: "audit",
		Name:      "messages_rejected_total",
		Help:      "Kafka records skipped because they are not well-formed compliance events.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(auditedCounter, auditLag, handlerErrorCounter, rejectedCounter)
}

func recordAudited(msg Message, now time.Time) {
	auditedCounter.WithLabelValues(msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		auditLag.WithLabelValues(msg.EventType).Observe(max(now.Sub(msg.Timestamp).Seconds(), 0))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.EventType).Inc()
}

func recordRejected(err error) {
	reason := rejectFraming
	var de *decodeError
	if errors.As(err, &de) {
		reason = de.reason
	}
	rejectedCounter.WithLabelValues(reason).Inc()
}
