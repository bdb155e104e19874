package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		subscriptionsExpiredTotal,
		subscriptionsUpgradedTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of paid subscriptions reverted to the free tier by the lapse sweep.",
		},
	)

	subscriptionsUpgradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_upgraded_total",
			Help: "Subscriptions granted from a successful payment.",
		},
		[]string{"family", "plan"},
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func IncSubscriptionUpgraded(family, plan string) {
	subscriptionsUpgradedTotal.WithLabelValues(norm(family), norm(plan)).Inc()
}
