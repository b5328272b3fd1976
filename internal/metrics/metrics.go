package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"github.com/xelth-com/arkikgo/internal/arkik"
)

const namespace = "arkik"

// Metrics holds the import metrics. It implements arkik.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Import metrics
	RecordsValidated *prometheus.CounterVec
	DuplicatesFound  *prometheus.CounterVec
	RecordsCommitted *prometheus.CounterVec
	CommitDuration   *prometheus.HistogramVec
	SessionsOpen     prometheus.Gauge
	FilesImported    *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates a new Metrics instance on its own registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	m.RecordsValidated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_validated_total",
			Help:      "Delivery slips validated, by validation status",
		},
		[]string{"status"},
	)
	m.DuplicatesFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_found_total",
			Help:      "Delivery slips that already existed, by overwrite risk",
		},
		[]string{"risk"},
	)
	m.RecordsCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_committed_total",
			Help:      "Delivery slips committed, by outcome",
		},
		[]string{"result"},
	)
	m.CommitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_commit_duration_seconds",
			Help:      "Time to commit one delivery slip",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"result"},
	)
	m.SessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Import sessions waiting for operator decisions or commit",
		},
	)
	m.FilesImported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_imported_total",
			Help:      "Arkik exports read, by format",
		},
		[]string{"format"},
	)
	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RecordsValidated,
		m.DuplicatesFound,
		m.RecordsCommitted,
		m.CommitDuration,
		m.SessionsOpen,
		m.FilesImported,
		m.CircuitBreakerState,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordValidated counts a validated slip
func (m *Metrics) RecordValidated(status arkik.ValidationStatus) {
	m.RecordsValidated.WithLabelValues(string(status)).Inc()
}

// DuplicateFound counts a collision with a persisted slip
func (m *Metrics) DuplicateFound(risk arkik.RiskLevel) {
	m.DuplicatesFound.WithLabelValues(string(risk)).Inc()
}

// RecordCommitted counts a committed slip and its duration
func (m *Metrics) RecordCommitted(result arkik.OutcomeResult, elapsed time.Duration) {
	m.RecordsCommitted.WithLabelValues(string(result)).Inc()
	m.CommitDuration.WithLabelValues(string(result)).Observe(elapsed.Seconds())
}

// RecordFileImported counts a read export
func (m *Metrics) RecordFileImported(format string) {
	m.FilesImported.WithLabelValues(format).Inc()
}

// SetSessionsOpen sets the number of open sessions
func (m *Metrics) SetSessionsOpen(n int) {
	m.SessionsOpen.Set(float64(n))
}

// SetCircuitBreakerState records the state of a named breaker
func (m *Metrics) SetCircuitBreakerState(name string, state gobreaker.State) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Middleware records every request under its route template
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		m.RecordHTTPRequest(r.Method, path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working through the recorder
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
