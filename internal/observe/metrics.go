// Package observe exports prometheus metrics for the dispatch pipeline. The
// host decides whether and where to expose them; the engine only increments.
package observe

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements dispatch.Observer.
type Metrics struct {
	dispatches *prometheus.CounterVec
	duration   prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatcmd",
			Name:      "dispatch_total",
			Help:      "Dispatched commands by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatcmd",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.dispatches, m.duration)
	return m
}

// ObserveDispatch records one completed dispatch.
func (m *Metrics) ObserveDispatch(outcome string, d time.Duration) {
	m.dispatches.WithLabelValues(strings.ToLower(outcome)).Inc()
	if d > 0 {
		m.duration.Observe(d.Seconds())
	}
}
