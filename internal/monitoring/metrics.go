// Package monitoring exposes Prometheus metrics and health checks for the
// Seismic server.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "seismic"

// Metrics collects application metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	submissions     *prometheus.CounterVec
	dispatches      *prometheus.CounterVec
	dispatchLatency prometheus.Histogram
	relayOutcomes   *prometheus.CounterVec
	relayLatency    *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	wsConnections   *prometheus.CounterVec
	contentReloads  *prometheus.CounterVec
	errors          *prometheus.CounterVec
	uptime          prometheus.GaugeFunc
}

// NewMetrics registers every collector on a fresh registry, along with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contact_submissions_total",
			Help:      "Contact form submissions by validation result.",
		}, []string{"result"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contact_dispatches_total",
			Help:      "Completed dispatch attempts by outcome.",
		}, []string{"outcome"}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "contact_dispatch_duration_seconds",
			Help:      "Time from submission to the end of the relay broadcast.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 4, 5, 6},
		}),
		relayOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_publish_total",
			Help:      "Relay publish outcomes by relay and status.",
		}, []string{"relay", "status"}),
		relayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_publish_duration_seconds",
			Help:      "Latency of relay answers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"relay"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "path", "status"}),
		wsConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_connections_total",
			Help:      "Status websocket connections by action.",
		}, []string{"action"}),
		contentReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "content_reloads_total",
			Help:      "Site content reloads by result.",
		}, []string{"result"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by category and component.",
		}, []string{"category", "component"}),
	}
	m.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the process started.",
	}, func() float64 { return time.Since(startTime).Seconds() })

	m.registry.MustRegister(
		m.submissions,
		m.dispatches,
		m.dispatchLatency,
		m.relayOutcomes,
		m.relayLatency,
		m.httpRequests,
		m.wsConnections,
		m.contentReloads,
		m.errors,
		m.uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ContactSubmitted counts a submission; result is "accepted" or "invalid".
func (m *Metrics) ContactSubmitted(result string) {
	m.submissions.WithLabelValues(result).Inc()
}

// DispatchCompleted records the end of a dispatch attempt.
func (m *Metrics) DispatchCompleted(outcome string, duration time.Duration) {
	m.dispatches.WithLabelValues(outcome).Inc()
	m.dispatchLatency.Observe(duration.Seconds())
}

// RelayOutcome records one relay answer.
func (m *Metrics) RelayOutcome(relay, status string, latency time.Duration) {
	m.relayOutcomes.WithLabelValues(relay, status).Inc()
	m.relayLatency.WithLabelValues(relay).Observe(latency.Seconds())
}

// ServerRequest counts an HTTP request.
func (m *Metrics) ServerRequest(method, path string, statusCode int) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
}

// WebSocketConnection tracks status websocket connections.
func (m *Metrics) WebSocketConnection(action string) {
	m.wsConnections.WithLabelValues(action).Inc() // "opened", "closed", "rejected"
}

// ContentReloaded counts a content reload attempt.
func (m *Metrics) ContentReloaded(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	m.contentReloads.WithLabelValues(result).Inc()
}

// ErrorOccurred counts an error by category and component.
func (m *Metrics) ErrorOccurred(category, component string) {
	m.errors.WithLabelValues(category, component).Inc()
}
