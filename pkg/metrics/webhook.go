package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Webhook outcomes.
const (
	OutcomeHandled   = "handled"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// WebhookMetrics counts provider deliveries by event type and outcome.
type WebhookMetrics struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Payment provider webhook deliveries by event and outcome.",
	}, []string{"provider", "event", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "webhook_handle_seconds",
		Help:      "Time spent reconciling a webhook delivery.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "event"})
	reg.MustRegister(events, duration)
	return &WebhookMetrics{events: events, duration: duration}
}

// Observe records one delivery.
func (w *WebhookMetrics) Observe(provider, event, outcome string, elapsed time.Duration) {
	if w == nil || w.events == nil {
		return
	}
	provider, event = normalizeLabel(provider), normalizeLabel(event)
	w.events.WithLabelValues(provider, event, normalizeLabel(outcome)).Inc()
	w.duration.WithLabelValues(provider, event).Observe(elapsed.Seconds())
}
