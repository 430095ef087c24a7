// Package obs exposes the service's Prometheus metrics.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a registry so tests and multiple servers in one process do
// not collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight        prometheus.Gauge
	httpRequestDuration *prometheus.HistogramVec
	stageTransitions    *prometheus.CounterVec
	stageFailures       *prometheus.CounterVec
	rejections          *prometheus.CounterVec
	eventsEmitted       prometheus.Counter
	activeStreams       prometheus.Gauge
	buildInfo           *prometheus.GaugeVec
}

// New builds and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "handshake_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "handshake_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "handshake_stage_transitions_total",
			Help: "Applicant stage transitions.",
		}, []string{"from", "to"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "handshake_stage_failures_total",
			Help: "Stage failures that started a cooldown.",
		}, []string{"stage", "reason"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "handshake_rejections_total",
			Help: "Rejected requests by error kind.",
		}, []string{"kind"}),
		eventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "handshake_events_emitted_total",
			Help: "Server-sent events written to applicants.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "handshake_active_streams",
			Help: "Open event stream connections.",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "handshake_build_info",
			Help: "Build information.",
		}, []string{"version"}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequestDuration,
		m.stageTransitions,
		m.stageFailures,
		m.rejections,
		m.eventsEmitted,
		m.activeStreams,
		m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SetBuildInfo publishes handshake_build_info{version} 1.
func (m *Metrics) SetBuildInfo(version string) {
	m.buildInfo.WithLabelValues(version).Set(1)
}

// StageTransition counts a stage change.
func (m *Metrics) StageTransition(from, to string) {
	m.stageTransitions.WithLabelValues(from, to).Inc()
}

// StageFailed counts a failure recorded against stage.
func (m *Metrics) StageFailed(stage, reason string) {
	m.stageFailures.WithLabelValues(stage, reason).Inc()
}

// Rejection counts a rejected request.
func (m *Metrics) Rejection(kind string) {
	m.rejections.WithLabelValues(kind).Inc()
}

// EventsEmitted adds n written events.
func (m *Metrics) EventsEmitted(n int) {
	m.eventsEmitted.Add(float64(n))
}

// StreamOpened and StreamClosed track open SSE connections.
func (m *Metrics) StreamOpened() { m.activeStreams.Inc() }
func (m *Metrics) StreamClosed() { m.activeStreams.Dec() }

// Instrument measures latency and in-flight requests. The route label is the
// ServeMux pattern, so path parameters do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequestDuration.WithLabelValues(route, strconv.Itoa(sw.code)).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps the writer usable for the event stream.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
