package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zoryamarket/payrecon/events"
	"github.com/zoryamarket/payrecon/reconciler"
)

// Service exposes the operator-facing counters and the needs-review backlog
// gauges. It consumes the engine's published payment events and is fed
// directly by the needs-review reporter.
type Service struct {
	registry *prometheus.Registry

	appliedResults  *prometheus.CounterVec
	paymentsSettled prometheus.Counter
	paymentsFailed  prometheus.Counter
	ordersForReview prometheus.Counter

	backlogSize      prometheus.Gauge
	backlogOldestAge prometheus.Gauge
}

func NewMetricsService() *Service {
	svc := &Service{
		registry: prometheus.NewRegistry(),
		appliedResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payrecon_webhook_events_total",
			Help: "Webhook event apply passes by outcome and error code.",
		}, []string{"result", "error_code"}),
		paymentsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payrecon_payments_settled_total",
			Help: "Orders marked paid.",
		}),
		paymentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payrecon_payments_failed_total",
			Help: "Orders finalized as failed or refunded.",
		}),
		ordersForReview: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payrecon_orders_needs_review_total",
			Help: "Orders parked for human review.",
		}),
		backlogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payrecon_needs_review_backlog",
			Help: "Events whose order is stuck in needs_review past the age threshold.",
		}),
		backlogOldestAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payrecon_needs_review_oldest_age_seconds",
			Help: "Age of the oldest needs-review backlog event.",
		}),
	}

	svc.registry.MustRegister(
		svc.appliedResults,
		svc.paymentsSettled,
		svc.paymentsFailed,
		svc.ordersForReview,
		svc.backlogSize,
		svc.backlogOldestAge,
	)

	return svc
}

func (svc *Service) Handler() http.Handler {
	return promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{})
}

func (svc *Service) RecordAppliedResult(result, errorCode string) {
	svc.appliedResults.WithLabelValues(result, errorCode).Inc()
}

func (svc *Service) SetNeedsReviewBacklog(count int64, oldestAgeSeconds float64) {
	svc.backlogSize.Set(float64(count))
	svc.backlogOldestAge.Set(oldestAgeSeconds)
}

func (svc *Service) ConsumeEvent(ctx context.Context, event *events.Event) {
	switch event.Event {
	case reconciler.EventPaymentSettled:
		svc.paymentsSettled.Inc()
	case reconciler.EventPaymentFailed:
		svc.paymentsFailed.Inc()
	case reconciler.EventOrderNeedsReview:
		svc.ordersForReview.Inc()
	}
}
