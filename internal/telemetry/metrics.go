// Package telemetry provides observability for the hub: structured logging
// and Prometheus metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the hub's request and task
// lifecycle.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
	tasksByStatus    *prometheus.GaugeVec
	quotaRejections  prometheus.Counter
	upstreamFailures *prometheus.CounterVec
}

// NewMetrics creates a collector backed by its own registry so tests never
// collide on the global one.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apihub",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apihub",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"route"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apihub",
			Name:      "active_sessions",
			Help:      "Chat sessions currently held in the registry.",
		}),
		tasksByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "apihub",
			Name:      "tasks",
			Help:      "Tracked tasks, by lifecycle status.",
		}, []string{"status"}),
		quotaRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apihub",
			Name:      "quota_rejections_total",
			Help:      "Requests rejected because the daily limit was reached.",
		}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apihub",
			Name:      "upstream_failures_total",
			Help:      "Upstream calls that failed, by failure kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeSessions,
		m.tasksByStatus,
		m.quotaRejections,
		m.upstreamFailures,
	)
	return m
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route, code string, seconds float64) {
	m.requestsTotal.WithLabelValues(route, code).Inc()
	m.requestDuration.WithLabelValues(route).Observe(seconds)
}

// SetActiveSessions updates the session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// SetTaskCounts updates the per-status task gauges.
func (m *Metrics) SetTaskCounts(pending, processing, completed, failed int) {
	m.tasksByStatus.WithLabelValues("pending").Set(float64(pending))
	m.tasksByStatus.WithLabelValues("processing").Set(float64(processing))
	m.tasksByStatus.WithLabelValues("completed").Set(float64(completed))
	m.tasksByStatus.WithLabelValues("failed").Set(float64(failed))
}

// RecordQuotaRejection counts a daily-limit rejection.
func (m *Metrics) RecordQuotaRejection() {
	m.quotaRejections.Inc()
}

// RecordUpstreamFailure counts a failed upstream call by fault kind.
func (m *Metrics) RecordUpstreamFailure(kind string) {
	m.upstreamFailures.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for scraping in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
