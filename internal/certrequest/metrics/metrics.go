package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the request lifecycle: submissions, lock contention and
// decisions, plus latency of the two write paths staff hit concurrently.
type Metrics struct {
	Submitted      prometheus.Counter
	LockAttempts   *prometheus.CounterVec
	Decisions      *prometheus.CounterVec
	NotifyDropped  prometheus.Counter
	LockDuration   prometheus.Histogram
	DecideDuration prometheus.Histogram
	SubmitDuration prometheus.Histogram
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

func New() *Metrics {
	return &Metrics{
		Submitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certdesk_requests_submitted_total",
			Help: "Total number of certificate requests submitted",
		}),
		LockAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certdesk_request_lock_attempts_total",
			Help: "Lock attempts by outcome (acquired, already_locked, unworkable, not_found, error)",
		}, []string{"outcome"}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certdesk_request_decisions_total",
			Help: "Decisions recorded by resulting status",
		}, []string{"status"}),
		NotifyDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certdesk_request_notifications_dropped_total",
			Help: "Applicant notifications that could not be queued",
		}),
		LockDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "certdesk_request_lock_duration_seconds",
			Help:    "Duration of Lock operations",
			Buckets: latencyBuckets,
		}),
		DecideDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "certdesk_request_decide_duration_seconds",
			Help:    "Duration of Decide operations",
			Buckets: latencyBuckets,
		}),
		SubmitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "certdesk_request_submit_duration_seconds",
			Help:    "Duration of Submit operations",
			Buckets: latencyBuckets,
		}),
	}
}

func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	m.Submitted.Inc()
}

func (m *Metrics) IncLockAttempt(outcome string) {
	if m == nil {
		return
	}
	m.LockAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncDecision(status string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncNotifyDropped() {
	if m == nil {
		return
	}
	m.NotifyDropped.Inc()
}

// ObserveLock records the duration of a Lock call started at start.
func (m *Metrics) ObserveLock(start time.Time) {
	if m == nil {
		return
	}
	m.LockDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveDecide(start time.Time) {
	if m == nil {
		return
	}
	m.DecideDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveSubmit(start time.Time) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}
