package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the credit check lifecycle.
type Metrics struct {
	Submitted prometheus.Counter

	// Terminal transitions by status: "completed", "failed"
	Resolved *prometheus.CounterVec

	// Results that arrived after the request was already terminal
	DuplicateResults prometheus.Counter

	// Provider errors by category
	ProviderErrors *prometheus.CounterVec

	// Pending requests failed by the timeout sweeper
	Expired prometheus.Counter

	// Time from submission to the terminal transition
	ResolveLatency prometheus.Histogram
}

// New creates a new Metrics instance with all credit check metrics registered.
func New() *Metrics {
	return &Metrics{
		Submitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brokerdesk_credit_checks_submitted_total",
			Help: "Total credit checks submitted by brokers",
		}),
		Resolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_credit_checks_resolved_total",
			Help: "Total credit checks that reached a terminal status",
		}, []string{"status"}),
		DuplicateResults: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brokerdesk_credit_checks_duplicate_results_total",
			Help: "Provider results ignored because the request was already terminal",
		}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_credit_checks_provider_errors_total",
			Help: "Provider errors by category",
		}, []string{"category"}),
		Expired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "brokerdesk_credit_checks_expired_total",
			Help: "Pending credit checks failed after exceeding the pending timeout",
		}),
		ResolveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "brokerdesk_credit_checks_resolve_duration_seconds",
			Help:    "Time from submission to terminal status",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
	}
}

func (m *Metrics) IncSubmitted() {
	if m != nil {
		m.Submitted.Inc()
	}
}

// ObserveResolved records a terminal transition and its end-to-end latency.
func (m *Metrics) ObserveResolved(status string, d time.Duration) {
	if m != nil {
		m.Resolved.WithLabelValues(status).Inc()
		m.ResolveLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncDuplicateResult() {
	if m != nil {
		m.DuplicateResults.Inc()
	}
}

func (m *Metrics) IncProviderError(category string) {
	if m != nil {
		m.ProviderErrors.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) IncExpired() {
	if m != nil {
		m.Expired.Inc()
	}
}
