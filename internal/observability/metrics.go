package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	attemptsGraded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cpd_engine",
		Subsystem: "assessment",
		Name:      "attempts_graded_total",
		Help:      "Assessment attempts graded and stored, labeled by outcome.",
	}, []string{"outcome"})
	attemptsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cpd_engine",
		Subsystem: "assessment",
		Name:      "attempts_rejected_total",
		Help:      "Attempt submissions rejected before storage, labeled by reason.",
	}, []string{"reason"})
	certificatesIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cpd_engine",
		Subsystem: "issuance",
		Name:      "certificates_total",
		Help:      "Issuance cascade results, labeled by whether the attempt had already been issued.",
	}, []string{"result"})
	codeCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cpd_engine",
		Subsystem: "issuance",
		Name:      "code_collisions_total",
		Help:      "Certificate codes regenerated after a uniqueness violation.",
	})
	issuanceRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cpd_engine",
		Subsystem: "issuance",
		Name:      "transient_retries_total",
		Help:      "Issuance transactions retried after a transient storage failure.",
	})
	allocationsReplaced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cpd_engine",
		Subsystem: "allocation",
		Name:      "replacements_total",
		Help:      "Allocation sets replaced for a credit record.",
	})
	lastIssuedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cpd_engine",
		Subsystem: "issuance",
		Name:      "last_certificate_issued_timestamp_seconds",
		Help:      "Unix timestamp of the most recent certificate issued.",
	})
)

func init() {
	prometheus.MustRegister(attemptsGraded, attemptsRejected, certificatesIssued, codeCollisions, issuanceRetries, allocationsReplaced, lastIssuedGauge)
}

// RecordAttemptGraded counts a stored attempt.
func RecordAttemptGraded(passed bool) {
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	attemptsGraded.WithLabelValues(outcome).Inc()
}

// RecordAttemptRejected counts a submission that never became an attempt.
func RecordAttemptRejected(reason string) {
	attemptsRejected.WithLabelValues(reason).Inc()
}

// RecordCertificateIssued counts a cascade result and moves the issuance watermark.
func RecordCertificateIssued(replay bool, ts time.Time) {
	if replay {
		certificatesIssued.WithLabelValues("replay").Inc()
		return
	}
	certificatesIssued.WithLabelValues("issued").Inc()
	if !ts.IsZero() {
		lastIssuedGauge.Set(float64(ts.Unix()))
	}
}

// RecordCodeCollision counts a regenerated certificate code.
func RecordCodeCollision() { codeCollisions.Inc() }

// RecordIssuanceRetry counts a transient retry of the cascade transaction.
func RecordIssuanceRetry() { issuanceRetries.Inc() }

// RecordAllocationReplaced counts a successful allocation replacement.
func RecordAllocationReplaced() { allocationsReplaced.Inc() }
