package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records checkout pipeline counters. A nil *CheckoutMetrics is a no-op.
type CheckoutMetrics struct {
	ordersCreated   *prometheus.CounterVec
	finalizations   *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	finalizeLatency *prometheus.HistogramVec
}

// NewCheckoutMetrics creates the checkout collectors and registers them with reg.
// A nil registerer leaves the collectors unregistered.
func NewCheckoutMetrics(reg prometheus.Registerer) (*CheckoutMetrics, error) {
	m := &CheckoutMetrics{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngo", Subsystem: "checkout", Name: "orders_created_total",
			Help: "Pending orders persisted, by source.",
		}, []string{"source"}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngo", Subsystem: "checkout", Name: "finalizations_total",
			Help: "Order finalizations, by source and outcome.",
		}, []string{"source", "outcome"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ngo", Subsystem: "checkout", Name: "gateway_callbacks_total",
			Help: "Gateway callbacks received, by outcome.",
		}, []string{"outcome"}),
		finalizeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ngo", Subsystem: "checkout", Name: "finalize_duration_seconds",
			Help:    "Time spent finalizing an order.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.ordersCreated, m.finalizations, m.callbacks, m.finalizeLatency} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *CheckoutMetrics) orderCreated(source string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(source).Inc()
}

func (m *CheckoutMetrics) finalized(source, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(source, outcome).Inc()
	m.finalizeLatency.WithLabelValues(source).Observe(time.Since(started).Seconds())
}

func (m *CheckoutMetrics) callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}
