package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records webhook delivery and reconciliation outcomes per
// gateway.
type WebhookMetrics struct {
	received   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_received_total",
		Help: "Webhook deliveries received per gateway.",
	}, []string{"gateway"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Webhook deliveries rejected before reconciliation.",
	}, []string{"gateway", "reason"})
	reconciled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_reconciled_total",
		Help: "Webhook deliveries that settled a transaction.",
	}, []string{"gateway", "outcome"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_duplicate_total",
		Help: "Webhook deliveries skipped because the transaction was already terminal.",
	}, []string{"gateway"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_seconds",
		Help:    "End-to-end webhook processing duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway"})
	reg.MustRegister(received, rejected, reconciled, duplicates, duration)
	return &WebhookMetrics{
		received:   received,
		rejected:   rejected,
		reconciled: reconciled,
		duplicates: duplicates,
		duration:   duration,
	}
}

// IncReceived counts an inbound delivery for the gateway.
func (m *WebhookMetrics) IncReceived(gateway string) {
	if m == nil || m.received == nil {
		return
	}
	m.received.WithLabelValues(normalizeLabel(gateway)).Inc()
}

// IncRejected counts a delivery that never reached reconciliation.
func (m *WebhookMetrics) IncRejected(gateway, reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(normalizeLabel(gateway), normalizeLabel(reason)).Inc()
}

// IncReconciled counts a delivery that settled its transaction.
func (m *WebhookMetrics) IncReconciled(gateway, outcome string) {
	if m == nil || m.reconciled == nil {
		return
	}
	m.reconciled.WithLabelValues(normalizeLabel(gateway), normalizeLabel(outcome)).Inc()
}

// IncDuplicate counts a replay against an already-terminal transaction.
func (m *WebhookMetrics) IncDuplicate(gateway string) {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.WithLabelValues(normalizeLabel(gateway)).Inc()
}

// ObserveDuration records how long a delivery took to process.
func (m *WebhookMetrics) ObserveDuration(gateway string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(gateway)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
