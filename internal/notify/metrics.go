package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Sent         *prometheus.CounterVec
	Failed       *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Sent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certdesk_notifications_sent_total",
			Help: "Notifications delivered to the mail provider",
		}, []string{"kind"}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certdesk_notifications_failed_total",
			Help: "Notifications the mail provider rejected or timed out",
		}, []string{"kind"}),
		Dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certdesk_notifications_dropped_total",
			Help: "Notifications never attempted",
		}, []string{"reason"}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "certdesk_notifications_breaker_open",
			Help: "1 while the notifier circuit breaker is open",
		}),
	}
}

func (m *Metrics) sent(kind Kind) {
	if m != nil {
		m.Sent.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) failed(kind Kind) {
	if m != nil {
		m.Failed.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) breakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}
