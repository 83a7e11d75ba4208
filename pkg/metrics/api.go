package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RateLimitMetrics records limiter decisions per bucket.
type RateLimitMetrics struct {
	allowed  *prometheus.CounterVec
	blocked  *prometheus.CounterVec
	failOpen *prometheus.CounterVec
}

// NewRateLimitMetrics registers the limiter metrics on the provided registerer.
func NewRateLimitMetrics(reg prometheus.Registerer) *RateLimitMetrics {
	if reg == nil {
		return &RateLimitMetrics{}
	}
	allowed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_allowed_total",
		Help: "Requests allowed by the rate limiter.",
	}, []string{"bucket"})
	blocked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_blocked_total",
		Help: "Requests denied (or denied in report-only mode) by the rate limiter.",
	}, []string{"bucket"})
	failOpen := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ratelimit_fail_open_total",
		Help: "Limiter store failures that resulted in a fail-open allow.",
	}, []string{"bucket"})
	reg.MustRegister(allowed, blocked, failOpen)
	return &RateLimitMetrics{
		allowed:  allowed,
		blocked:  blocked,
		failOpen: failOpen,
	}
}

// IncAllowed increments the allow counter for the bucket.
func (m *RateLimitMetrics) IncAllowed(bucket string) {
	if m == nil || m.allowed == nil {
		return
	}
	m.allowed.WithLabelValues(normalizeLabel(bucket)).Inc()
}

// IncBlocked increments the deny counter for the bucket.
func (m *RateLimitMetrics) IncBlocked(bucket string) {
	if m == nil || m.blocked == nil {
		return
	}
	m.blocked.WithLabelValues(normalizeLabel(bucket)).Inc()
}

// IncFailOpen increments the fail-open counter for the bucket.
func (m *RateLimitMetrics) IncFailOpen(bucket string) {
	if m == nil || m.failOpen == nil {
		return
	}
	m.failOpen.WithLabelValues(normalizeLabel(bucket)).Inc()
}

// ReconcileMetrics records billing reconciliation outcomes.
type ReconcileMetrics struct {
	processed *prometheus.CounterVec
	deduped   *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

// NewReconcileMetrics registers the reconciler metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_reconcile_processed_total",
		Help: "Billing events applied to workspace state.",
	}, []string{"source"})
	deduped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_reconcile_deduped_total",
		Help: "Billing events skipped as duplicate deliveries.",
	}, []string{"source"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_reconcile_failed_total",
		Help: "Billing events that could not be reconciled.",
	}, []string{"source"})
	reg.MustRegister(processed, deduped, failed)
	return &ReconcileMetrics{
		processed: processed,
		deduped:   deduped,
		failed:    failed,
	}
}

// IncProcessed increments the processed counter for the source (push/pull).
func (m *ReconcileMetrics) IncProcessed(source string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(source)).Inc()
}

// IncDeduped increments the dedupe counter for the source.
func (m *ReconcileMetrics) IncDeduped(source string) {
	if m == nil || m.deduped == nil {
		return
	}
	m.deduped.WithLabelValues(normalizeLabel(source)).Inc()
}

// IncFailed increments the failure counter for the source.
func (m *ReconcileMetrics) IncFailed(source string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(source)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
