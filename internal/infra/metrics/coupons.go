package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(couponRedemptionsTotal) }

var couponRedemptionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Coupon usage increments at payment success.",
	},
	[]string{"result"}, // 'redeemed', 'exhausted'
)

func IncCouponRedemption(result string) {
	couponRedemptionsTotal.WithLabelValues(norm(result)).Inc()
}
