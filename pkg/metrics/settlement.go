package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics records gateway confirm outcomes for the settlement worker.
type SettlementMetrics struct {
	confirmDuration *prometheus.HistogramVec
	confirmSuccess  *prometheus.CounterVec
	confirmFailure  *prometheus.CounterVec
	confirmRetries  *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	confirmDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_confirm_duration_seconds",
		Help:    "Duration of payment confirm calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
	confirmSuccess := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirm_success",
		Help: "Successful payment confirmations.",
	}, []string{"mode"})
	confirmFailure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirm_failure",
		Help: "Failed payment confirmations by gateway error code.",
	}, []string{"mode", "code"})
	confirmRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirm_retries",
		Help: "Retried gateway confirm attempts.",
	}, []string{"mode"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events",
		Help: "Processed gateway webhook events by status and outcome.",
	}, []string{"status", "outcome"})
	reg.MustRegister(confirmDuration, confirmSuccess, confirmFailure, confirmRetries, webhookEvents)
	return &SettlementMetrics{
		confirmDuration: confirmDuration,
		confirmSuccess:  confirmSuccess,
		confirmFailure:  confirmFailure,
		confirmRetries:  confirmRetries,
		webhookEvents:   webhookEvents,
	}
}

// ObserveConfirmDuration records a confirm round trip for the given mode (sync or async).
func (m *SettlementMetrics) ObserveConfirmDuration(mode string, duration time.Duration) {
	if m == nil || m.confirmDuration == nil {
		return
	}
	m.confirmDuration.WithLabelValues(normalizeLabel(mode)).Observe(duration.Seconds())
}

// IncConfirmSuccess increments the success counter for the given mode.
func (m *SettlementMetrics) IncConfirmSuccess(mode string) {
	if m == nil || m.confirmSuccess == nil {
		return
	}
	m.confirmSuccess.WithLabelValues(normalizeLabel(mode)).Inc()
}

// IncConfirmFailure increments the failure counter for the mode and gateway code.
func (m *SettlementMetrics) IncConfirmFailure(mode, code string) {
	if m == nil || m.confirmFailure == nil {
		return
	}
	m.confirmFailure.WithLabelValues(normalizeLabel(mode), normalizeLabel(code)).Inc()
}

// IncConfirmRetry increments the retry counter for the given mode.
func (m *SettlementMetrics) IncConfirmRetry(mode string) {
	if m == nil || m.confirmRetries == nil {
		return
	}
	m.confirmRetries.WithLabelValues(normalizeLabel(mode)).Inc()
}

// IncWebhookEvent counts one processed webhook delivery.
func (m *SettlementMetrics) IncWebhookEvent(status, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(status), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
