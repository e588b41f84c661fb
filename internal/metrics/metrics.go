// Package metrics exposes posvision counters in Prometheus format.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inference paths
const (
	PathStream = "stream"
	PathManual = "manual"
)

// Inference outcomes
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds all application metrics
type Metrics struct {
	// Scheduler counters
	Ticks        atomic.Uint64
	DroppedTicks atomic.Uint64
	SoftSkips    atomic.Uint64
	InFlight     atomic.Int64

	// Stream state
	StreamActive atomic.Uint64 // 0 = inactive, 1 = active
	Sessions     atomic.Uint64

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posvision_inference_requests_total",
			Help: "Inference requests by path and outcome",
		}, []string{"path", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "posvision_inference_duration_seconds",
			Help:    "Inference round-trip time as seen by the console",
			Buckets: []float64{.05, .1, .2, .4, .6, .8, 1, 1.5, 2.5, 5},
		}, []string{"path"}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.requests, m.latency)

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "posvision_stream_ticks_total",
			Help: "Scheduler ticks fired while streaming",
		},
		func() float64 { return float64(m.Ticks.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "posvision_stream_ticks_dropped_total",
			Help: "Ticks dropped because a request was still in flight",
		},
		func() float64 { return float64(m.DroppedTicks.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "posvision_stream_soft_skips_total",
			Help: "Ticks that produced no frame",
		},
		func() float64 { return float64(m.SoftSkips.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "posvision_stream_in_flight",
			Help: "Streaming inference requests currently outstanding",
		},
		func() float64 { return float64(m.InFlight.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "posvision_stream_active",
			Help: "Camera stream state (0=stopped, 1=streaming)",
		},
		func() float64 { return float64(m.StreamActive.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "posvision_stream_sessions_total",
			Help: "Stream sessions started",
		},
		func() float64 { return float64(m.Sessions.Load()) },
	))
}

// Tick records a scheduler tick; dropped marks it as skipped by the in-flight guard
func (m *Metrics) Tick(dropped bool) {
	if m == nil {
		return
	}
	m.Ticks.Add(1)
	if dropped {
		m.DroppedTicks.Add(1)
	}
}

// SoftSkip records a tick that produced no frame
func (m *Metrics) SoftSkip() {
	if m == nil {
		return
	}
	m.SoftSkips.Add(1)
}

// RequestStarted marks a streaming request in flight
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.InFlight.Add(1)
}

// RequestDone clears a streaming in-flight request
func (m *Metrics) RequestDone() {
	if m == nil {
		return
	}
	m.InFlight.Add(-1)
}

// ObserveInference records one inference call
func (m *Metrics) ObserveInference(path string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.requests.WithLabelValues(path, outcome).Inc()
	m.latency.WithLabelValues(path).Observe(d.Seconds())
}

// SetStreaming records a stream start or stop
func (m *Metrics) SetStreaming(active bool) {
	if m == nil {
		return
	}
	if active {
		m.StreamActive.Store(1)
		m.Sessions.Add(1)
		return
	}
	m.StreamActive.Store(0)
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for Prometheus scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
