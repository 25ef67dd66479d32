// Package metrics exposes the Prometheus counters and gauges for the
// order pipeline: fill rate, forced-fill count, retry depth, admission
// latency, and reservation-opener outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	admissionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bourse_admission_total",
			Help: "Orders admitted, by side and resulting status.",
		},
		[]string{"side", "status"},
	)

	admissionLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bourse_admission_latency_seconds",
			Help:    "Admission Service end-to-end latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"side"},
	)

	matchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bourse_match_attempts_total",
			Help: "Matching Worker probabilistic draws, by outcome.",
		},
		[]string{"outcome"},
	)

	retryPendingDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bourse_retry_pending_depth",
			Help: "Orders currently waiting out their retry delay.",
		},
	)

	reservationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bourse_reservation_outcomes_total",
			Help: "Reservation Opener outcomes per RESERVED order processed, by side and outcome.",
		},
		[]string{"side", "outcome"},
	)

	pendingCleanupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bourse_pending_cleanup_total",
			Help: "Orders failed by the post-close pending-cleanup job, by side.",
		},
		[]string{"side"},
	)
)

func init() {
	prometheus.MustRegister(admissionTotal, admissionLatency, matchAttemptsTotal, retryPendingDepth, reservationOutcomesTotal, pendingCleanupTotal)
}

// ObserveAdmission records one admission attempt's outcome and latency.
func ObserveAdmission(side, status string, seconds float64) {
	admissionTotal.WithLabelValues(side, status).Inc()
	admissionLatency.WithLabelValues(side).Observe(seconds)
}

// IncMatchAttempt records one matching draw by outcome tag.
func IncMatchAttempt(outcome string) {
	matchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// SetRetryPendingDepth reports how many orders the Retry Scheduler is
// currently holding back.
func SetRetryPendingDepth(n int) {
	retryPendingDepth.Set(float64(n))
}

// IncReservationOutcome records one Reservation Opener per-order result
// (promoted/cancelled).
func IncReservationOutcome(side, outcome string) {
	reservationOutcomesTotal.WithLabelValues(side, outcome).Inc()
}

// IncPendingCleanup records one order failed by the post-close
// pending-cleanup job.
func IncPendingCleanup(side string) {
	pendingCleanupTotal.WithLabelValues(side).Inc()
}

// Handler serves the Prometheus text exposition format at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
