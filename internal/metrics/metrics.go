package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// Metrics は nil のままでも呼べる（テストでは渡さないことが多い）。
type Metrics struct {
	reservations    *prometheus.CounterVec
	ledgerOps       *prometheus.CounterVec
	orderTransition *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
	idempotency     *prometheus.CounterVec
	handlerLatency  *prometheus.HistogramVec
	sweepRuns       *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "reservations_total",
			Help: "Reserve batches by result.",
		}, []string{"result"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "inventory", Name: "ledger_units_total",
			Help: "Units moved by ledger operation.",
		}, []string{"op"}),
		orderTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "orders", Name: "transitions_total",
			Help: "Order status transitions.",
		}, []string{"from", "to"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "payments", Name: "webhook_events_total",
			Help: "Payment webhook events by type and outcome.",
		}, []string{"type", "outcome"}),
		idempotency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "idempotency", Name: "executions_total",
			Help: "Idempotent executions by outcome.",
		}, []string{"outcome"}),
		handlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "idempotency", Name: "handler_seconds",
			Help:    "Latency of idempotent handlers including the completing commit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sweeper", Name: "items_total",
			Help: "Items handled by background sweeps.",
		}, []string{"kind", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "order_confirmed_total",
			Help: "Order confirmation notifications by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.reservations,
			m.ledgerOps,
			m.orderTransition,
			m.webhookEvents,
			m.idempotency,
			m.handlerLatency,
			m.sweepRuns,
			m.notifications,
		)
	}
	return m
}

func (m *Metrics) Reservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

func (m *Metrics) LedgerUnits(op string, units int64) {
	if m == nil || units <= 0 {
		return
	}
	m.ledgerOps.WithLabelValues(op).Add(float64(units))
}

func (m *Metrics) OrderTransition(from, to string) {
	if m == nil {
		return
	}
	m.orderTransition.WithLabelValues(from, to).Inc()
}

func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Idempotency(outcome string) {
	if m == nil {
		return
	}
	m.idempotency.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HandlerLatency(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerLatency.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) Sweep(kind, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepRuns.WithLabelValues(kind, result).Add(float64(n))
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
