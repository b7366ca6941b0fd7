package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func init() {
	register(
		webhookRequestsTotal,
		webhookDuration,
		finalizeOutcomesTotal,
		paymentsRevenueTotal,
		paymentRollbacksTotal,
		stuckProcessingPayments,
	)
}

var (
	// status: 200|400|503, event: provider event name
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_requests_total",
			Help: "Provider webhook deliveries by event and response status.",
		},
		[]string{"event", "status"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_webhook_duration_seconds",
			Help:    "Webhook handling latency in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"event"},
	)

	finalizeOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_finalize_outcomes_total",
			Help: "Finalizer outcomes (succeeded/already_processed/terminal/rejected/retry) by reason.",
		},
		[]string{"outcome", "reason"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value of successful payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	paymentRollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_processing_rollbacks_total",
			Help: "Compensating processing -> pending rollbacks by result.",
		},
		[]string{"result"},
	)

	stuckProcessingPayments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_stuck_processing",
			Help: "Payments left in processing longer than the reconcile threshold.",
		},
	)
)

func IncWebhook(event, status string) {
	webhookRequestsTotal.WithLabelValues(norm(event), status).Inc()
}

func ObserveWebhook(event string, seconds float64) {
	webhookDuration.WithLabelValues(norm(event)).Observe(seconds)
}

func IncFinalizeOutcome(outcome, reason string) {
	finalizeOutcomesTotal.WithLabelValues(norm(outcome), norm(reason)).Inc()
}

func AddPaymentRevenue(currency string, amount decimal.Decimal) {
	f, _ := amount.Float64()
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(f)
}

func IncRollback(result string) {
	paymentRollbacksTotal.WithLabelValues(norm(result)).Inc()
}

func SetStuckProcessing(n int) {
	stuckProcessingPayments.Set(float64(n))
}
