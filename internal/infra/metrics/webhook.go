package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		webhookRequestsTotal,
		webhookDuration,
	)
}

var (
	// result: processed|already_processed|pending|failed|late_success|amount_mismatch|
	// bad_signature|bad_payload|not_found|error
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Gateway callbacks by reconciliation result.",
		},
		[]string{"result"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "Duration of gateway callback reconciliation in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"result"},
	)
)

func ObserveWebhook(result string, d time.Duration) {
	r := norm(result)
	webhookRequestsTotal.WithLabelValues(r).Inc()
	webhookDuration.WithLabelValues(r).Observe(d.Seconds())
}
