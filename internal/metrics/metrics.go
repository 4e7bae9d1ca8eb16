// Package metrics holds the Prometheus collectors shared by the explorer
// binaries.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	InvocationsTotal   *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   *prometheus.CounterVec
	SizeMismatchTotal  prometheus.Counter
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates all collectors and registers them on registry. A nil
// registry gets a fresh one.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		InvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyexplorer_invocations_total",
				Help: "Total number of interpreter subprocess invocations",
			},
			[]string{"op", "status"},
		),
		InvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pyexplorer_invocation_duration_seconds",
				Help:    "Interpreter subprocess duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"op"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyexplorer_cache_hits_total",
				Help: "Total number of result cache hits",
			},
			[]string{"artifact"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyexplorer_cache_misses_total",
				Help: "Total number of result cache misses",
			},
			[]string{"artifact"},
		),
		SizeMismatchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pyexplorer_help_size_mismatch_total",
				Help: "Help documents whose reassembled length differed from the declared size",
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyexplorer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pyexplorer_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.InvocationsTotal,
		m.InvocationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SizeMismatchTotal,
		m.HTTPRequestsTotal,
		m.HTTPDuration,
	)
	return m
}

func (m *Metrics) ObserveInvocation(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.InvocationsTotal.WithLabelValues(op, status).Inc()
	m.InvocationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) CacheHit(artifact string) {
	if m != nil {
		m.CacheHitsTotal.WithLabelValues(artifact).Inc()
	}
}

func (m *Metrics) CacheMiss(artifact string) {
	if m != nil {
		m.CacheMissesTotal.WithLabelValues(artifact).Inc()
	}
}

func (m *Metrics) SizeMismatch() {
	if m != nil {
		m.SizeMismatchTotal.Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
