package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes a dead-lettered compliance event can reach on a replay pass.
const (
	dlqOutcomeRequeued    = "requeued"
	dlqOutcomeRetry       = "retry_scheduled"
	dlqOutcomeQuarantined = "quarantined"
)

var (
	dlqOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "event_outcomes_total",
		Help:      "Dead-lettered compliance events by aggregate, event type and replay outcome.",
	}, []string{"aggregate_type", "event_type", "outcome"})

	dlqRequeueAttempts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "requeue_attempts",
		Help:      "Replay attempts an event needed before it went back onto the outbox.",
		Buckets:   []float64{1, 2, 3, 5, 8},
	}, []string{"event_type"})

	dlqBacklogGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "dlq",
		Name:      "pending_events",
		Help:      "Dead-lettered events awaiting replay, per aggregate type.",
	}, []string{"aggregate_type"})
)

func init() {
	prometheus.MustRegister(dlqOutcomeCounter, dlqRequeueAttempts, dlqBacklogGauge)
}

func recordDLQOutcome(entry dlqEntry, outcome string) {
	dlqOutcomeCounter.WithLabelValues(entry.AggregateType, entry.EventType, outcome).Inc()
	if outcome == dlqOutcomeRequeued {
		dlqRequeueAttempts.WithLabelValues(entry.EventType).Observe(float64(entry.RetryCount + 1))
	}
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx,
		`SELECT aggregate_type, COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL GROUP BY aggregate_type`)
	if err != nil {
		return
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			aggregate string
			n         int
		)
		if err := rows.Scan(&aggregate, &n); err != nil {
			return
		}
		counts[aggregate] = n
	}
	if rows.Err() != nil {
		return
	}
	dlqBacklogGauge.Reset()
	for aggregate, n := range counts {
		dlqBacklogGauge.WithLabelValues(aggregate).Set(float64(n))
	}
}
