package coordinator

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records apply outcomes and latency. A nil *Metrics records nothing.
type Metrics struct {
	applied  *prometheus.CounterVec
	stale    *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the coordinator collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starcore",
			Subsystem: "coordinator",
			Name:      "events_applied_total",
			Help:      "Events applied, by entity kind and outcome.",
		}, []string{"kind", "outcome"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starcore",
			Subsystem: "coordinator",
			Name:      "events_stale_total",
			Help:      "Events whose valid time preceded stored state.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starcore",
			Subsystem: "coordinator",
			Name:      "events_failed_total",
			Help:      "Events that failed to apply, by entity kind and error code.",
		}, []string{"kind", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "starcore",
			Subsystem: "coordinator",
			Name:      "apply_duration_seconds",
			Help:      "Time spent in Apply, including lock waits.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),
	}
	reg.MustRegister(m.applied, m.stale, m.failures, m.duration)
	return m
}

func (m *Metrics) observe(kind string, outcome Outcome, stale bool, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		code := "other"
		var ae *ApplyError
		if errors.As(err, &ae) {
			code = string(ae.Code)
		}
		m.failures.WithLabelValues(kind, code).Inc()
		return
	}
	m.applied.WithLabelValues(kind, outcome.String()).Inc()
	if stale {
		m.stale.WithLabelValues(kind).Inc()
	}
}
