package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit pipeline.
type Metrics struct {
	Emitted      *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	SweptEntries prometheus.Counter
}

// NewMetrics registers the audit metrics. Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		Emitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certdesk_audit_emitted_total",
			Help: "Audit entries accepted by the publisher",
		}, []string{"action"}),
		Dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certdesk_audit_dropped_total",
			Help: "Audit entries that were not persisted",
		}, []string{"reason"}),
		SweptEntries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certdesk_audit_swept_total",
			Help: "Expired audit entries removed by the retention sweep",
		}),
	}
}

func (m *Metrics) IncEmitted(action string) {
	if m == nil {
		return
	}
	m.Emitted.WithLabelValues(action).Inc()
}

func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SweptEntries.Add(float64(n))
}
