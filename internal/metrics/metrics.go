// Package metrics exposes Prometheus collectors for the ingest pipeline, the
// brute-force sweep, the blocklist, alerts and the HTTP layer.
//
// Every method is safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alarm"

// Metrics holds every collector, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	ingestBatches *prometheus.CounterVec
	ingestEntries *prometheus.CounterVec

	sweeps        prometheus.Counter
	sweepDuration prometheus.Histogram
	suspicious    prometheus.Counter

	bans   *prometheus.CounterVec
	alerts *prometheus.CounterVec
}

// New creates the collectors along with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		ingestBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Log batches by outcome (accepted, rejected, failed).",
		}, []string{"result"}),
		ingestEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "entries_total",
			Help:      "Persisted login attempts by action.",
		}, []string{"action"}),
		sweeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detect",
			Name:      "sweeps_total",
			Help:      "Brute-force sweeps executed.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detect",
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in a single sweep.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		suspicious: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detect",
			Name:      "suspicious_sources_total",
			Help:      "Source IPs that crossed the failure threshold, summed over sweeps.",
		}),
		bans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blocklist",
			Name:      "changes_total",
			Help:      "Blocklist changes by outcome (created, reactivated, unchanged, toggled).",
		}, []string{"outcome"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "recorded_total",
			Help:      "Alerts recorded by severity.",
		}, []string{"severity"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveBatch counts an ingest batch by result.
func (m *Metrics) ObserveBatch(result string) {
	if m == nil {
		return
	}
	m.ingestBatches.WithLabelValues(result).Inc()
}

// ObserveEntries adds n persisted attempts with the given action.
func (m *Metrics) ObserveEntries(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestEntries.WithLabelValues(action).Add(float64(n))
}

// ObserveSweep records one sweep and how many sources it found suspicious.
func (m *Metrics) ObserveSweep(elapsed time.Duration, suspicious int) {
	if m == nil {
		return
	}
	m.sweeps.Inc()
	m.sweepDuration.Observe(elapsed.Seconds())
	m.suspicious.Add(float64(suspicious))
}

// ObserveBan counts a blocklist change.
func (m *Metrics) ObserveBan(outcome string) {
	if m == nil {
		return
	}
	m.bans.WithLabelValues(outcome).Inc()
}

// ObserveAlert counts a recorded alert.
func (m *Metrics) ObserveAlert(severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(severity).Inc()
}
