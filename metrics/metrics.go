// Package metrics exposes the check, request and iteration results of a run as Prometheus
// metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resumable_upload_bench"

// Metrics holds the Prometheus collectors of one run. Each run owns its own registry.
type Metrics struct {
	Checks     *prometheus.CounterVec
	Requests   *prometheus.HistogramVec
	Iterations *prometheus.CounterVec
	registry   *prometheus.Registry
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Protocol assertions by check name and result",
			},
			[]string{"check", "result"},
		),
		Requests: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Protocol request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step", "code"},
		),
		Iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iterations_total",
				Help:      "Upload iterations by outcome",
			},
			[]string{"outcome"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.Checks)
	m.registry.MustRegister(m.Requests)
	m.registry.MustRegister(m.Iterations)

	return m
}

// ObserveCheck counts one assertion.
func (m *Metrics) ObserveCheck(name string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	m.Checks.WithLabelValues(name, result).Inc()
}

// ObserveRequest records one request. status 0 is reported as code "error".
func (m *Metrics) ObserveRequest(step string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.Requests.WithLabelValues(step, code).Observe(duration.Seconds())
}

// ObserveIteration counts one finished iteration.
func (m *Metrics) ObserveIteration(outcome string) {
	m.Iterations.WithLabelValues(outcome).Inc()
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
