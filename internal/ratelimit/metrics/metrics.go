package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected *prometheus.CounterVec
	Buckets  prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Rejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certdesk_ratelimit_rejected_total",
			Help: "Requests rejected by the rate limiter, by key kind",
		}, []string{"kind"}),
		Buckets: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "certdesk_ratelimit_buckets",
			Help: "Token buckets currently tracked",
		}),
	}
}

func (m *Metrics) IncRejected(kind string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetBuckets(n int) {
	if m == nil {
		return
	}
	m.Buckets.Set(float64(n))
}
