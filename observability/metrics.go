// Package observability exports guest call metrics.
package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/reglet-dev/reglet-guest-sdk/bridge"
	"github.com/reglet-dev/reglet-guest-sdk/guest/entities"
)

// Metrics counts and times guest calls by guest, operation and outcome.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "reglet",
				Subsystem: "guest",
				Name:      "calls_total",
				Help:      "Total guest calls forwarded by the bridge.",
			},
			[]string{"guest", "operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "reglet",
				Subsystem: "guest",
				Name:      "call_duration_seconds",
				Help:      "Guest call duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"guest", "operation", "outcome"},
		),
	}

	if reg != nil {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.calls.Describe(ch)
	m.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.calls.Collect(ch)
	m.duration.Collect(ch)
}

// Record stores one finished call.
func (m *Metrics) Record(call bridge.Call, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(entities.Kind(bridge.Normalize(call, err)))
	}
	m.calls.WithLabelValues(call.Guest, string(call.Operation), outcome).Inc()
	m.duration.WithLabelValues(call.Guest, string(call.Operation), outcome).Observe(d.Seconds())
}

// Middleware returns a bridge middleware that records every call.
func (m *Metrics) Middleware() bridge.Middleware {
	return func(next bridge.Handler) bridge.Handler {
		return func(ctx context.Context, call bridge.Call) error {
			start := time.Now()
			err := next(ctx, call)
			m.Record(call, err, time.Since(start))
			return err
		}
	}
}
