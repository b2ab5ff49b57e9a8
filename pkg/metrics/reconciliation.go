package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics records webhook and supervisor outcomes.
type ReconciliationMetrics struct {
	webhookOutcomes *prometheus.CounterVec
	activeTasks     prometheus.Gauge
	finalizations   *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
}

// NewReconciliationMetrics registers the reconciliation metrics on the provided registerer.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	webhookOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_outcomes_total",
		Help: "Payment webhook deliveries by outcome.",
	}, []string{"outcome"})
	activeTasks := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "supervisor_active_tasks",
		Help: "Activation polling tasks currently outstanding.",
	})
	finalizations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "supervisor_finalizations_total",
		Help: "Activation finalizations by terminal state.",
	}, []string{"state"})
	pollDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supervisor_poll_duration_seconds",
		Help:    "Duration of vendor status polls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"vendor"})
	reg.MustRegister(webhookOutcomes, activeTasks, finalizations, pollDuration)
	return &ReconciliationMetrics{
		webhookOutcomes: webhookOutcomes,
		activeTasks:     activeTasks,
		finalizations:   finalizations,
		pollDuration:    pollDuration,
	}
}

// IncWebhookOutcome counts one webhook delivery with the given outcome label.
func (m *ReconciliationMetrics) IncWebhookOutcome(outcome string) {
	if m == nil || m.webhookOutcomes == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// TaskStarted increments the active task gauge.
func (m *ReconciliationMetrics) TaskStarted() {
	if m == nil || m.activeTasks == nil {
		return
	}
	m.activeTasks.Inc()
}

// TaskFinished decrements the active task gauge.
func (m *ReconciliationMetrics) TaskFinished() {
	if m == nil || m.activeTasks == nil {
		return
	}
	m.activeTasks.Dec()
}

// IncFinalization counts one terminal transition.
func (m *ReconciliationMetrics) IncFinalization(state string) {
	if m == nil || m.finalizations == nil {
		return
	}
	m.finalizations.WithLabelValues(normalizeLabel(state)).Inc()
}

// ObservePoll records the duration of one vendor status poll.
func (m *ReconciliationMetrics) ObservePoll(vendor string, duration time.Duration) {
	if m == nil || m.pollDuration == nil {
		return
	}
	m.pollDuration.WithLabelValues(normalizeLabel(vendor)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return strings.ReplaceAll(trimmed, " ", "_")
}
