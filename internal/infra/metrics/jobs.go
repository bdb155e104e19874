package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(jobRunsTotal, notificationsTotal) }

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Background sweep runs, labeled by job and status.",
		},
		[]string{"job", "status"}, // status: 'ok', 'error', 'skipped'
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Billing event notifications by kind and delivery status.",
		},
		[]string{"kind", "status"}, // status: 'sent', 'error', 'dropped'
	)
)

func IncJobRun(job, status string) {
	jobRunsTotal.WithLabelValues(norm(job), norm(status)).Inc()
}

func IncNotification(kind, status string) {
	notificationsTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}
