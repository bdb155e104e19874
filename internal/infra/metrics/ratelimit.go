package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(rateLimitTriggeredTotal) }

var rateLimitTriggeredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_triggered_total",
		Help: "Requests rejected by the fixed-window limiter.",
	},
	[]string{"route"},
)

func IncRateLimited(route string) {
	rateLimitTriggeredTotal.WithLabelValues(norm(route)).Inc()
}
