package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for notification delivery.
type Metrics struct {
	// Persisted notifications by type
	Published *prometheus.CounterVec

	// Bus pushes by event kind and result: "ok", "error", "skipped"
	Pushes *prometheus.CounterVec

	// Open websocket streams
	Streams prometheus.Gauge

	BreakerOpen prometheus.Gauge
}

// New creates a new Metrics instance with all notification metrics registered.
func New() *Metrics {
	return &Metrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_notifications_published_total",
			Help: "Total notifications persisted by type",
		}, []string{"type"}),
		Pushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "brokerdesk_notification_pushes_total",
			Help: "Bus pushes by event kind and result",
		}, []string{"kind", "result"}),
		Streams: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "brokerdesk_notification_streams_active",
			Help: "Websocket notification streams currently open",
		}),
		BreakerOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "brokerdesk_notification_push_breaker_open",
			Help: "1 while bus pushes are short-circuited",
		}),
	}
}

func (m *Metrics) IncPublished(kind string) {
	if m != nil {
		m.Published.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncPush(kind, result string) {
	if m != nil {
		m.Pushes.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) StreamOpened() {
	if m != nil {
		m.Streams.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.Streams.Dec()
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
