package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestWebhookMetricsCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewWebhookMetrics(reg)
	metrics.Observe("paystack", "charge.success", OutcomeHandled, 20*time.Millisecond)
	metrics.Observe("paystack", "charge.success", OutcomeHandled, 10*time.Millisecond)
	metrics.Observe("paystack", "", OutcomeRejected, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	got, err := fetchCounterValue(mfs, "settla_webhook_events_total", "event", "charge.success")
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected 2 handled charge events, got %f", got)
	}
	if _, err := fetchCounterValue(mfs, "settla_webhook_events_total", "event", "unknown"); err != nil {
		t.Fatalf("empty event label should normalize to unknown: %v", err)
	}
	if sum, err := fetchHistogramSum(mfs, "settla_webhook_handle_seconds", "event", "charge.success"); err != nil || sum <= 0 {
		t.Fatalf("expected duration sum > 0, got %f (%v)", sum, err)
	}
}
