package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(promoRedemptionsTotal, promoOverflowTotal, discountsExpiredTotal, discountSweepsTotal)
}

var (
	promoRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_redemptions_total",
			Help: "Promo code redemption attempts by type and result.",
		},
		[]string{"type", "result"},
	)

	// Raised whenever the reconciliation increment pushes a counter past its cap.
	promoOverflowTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_activations_overflow_total",
			Help: "Overflow increments that left current_activations above max_activations.",
		},
		[]string{"code"},
	)

	discountsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discount_reservations_expired_total",
			Help: "Discount reservations removed by the expiry sweeper.",
		},
	)

	discountSweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_sweeps_total",
			Help: "Expiry sweeper passes by result (ok/error/panic/skipped).",
		},
		[]string{"result"},
	)
)

func IncPromoRedemption(typ, result string) {
	promoRedemptionsTotal.WithLabelValues(norm(typ), norm(result)).Inc()
}

func IncPromoOverflow(code string) {
	promoOverflowTotal.WithLabelValues(code).Inc()
}

func AddDiscountsExpired(n int) {
	discountsExpiredTotal.Add(float64(n))
}

func IncDiscountSweep(result string) {
	discountSweepsTotal.WithLabelValues(norm(result)).Inc()
}
