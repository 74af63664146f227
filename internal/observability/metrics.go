package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	syncAttempts    *prometheus.CounterVec
	backlogOps      *prometheus.CounterVec
	backlogPending  prometheus.Gauge
}

// NewMetrics initialises the registry and the base metric set.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rmtauth_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rmtauth_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	syncAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rmtauth_sync_attempts_total",
		Help: "Provider push attempts by operation and outcome.",
	}, []string{"operation", "outcome"})
	backlogOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rmtauth_backlog_transitions_total",
		Help: "Backlog operation state transitions.",
	}, []string{"status"})
	backlogPending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rmtauth_backlog_pending",
		Help: "Backlog operations currently pending retry.",
	})
	registry.MustRegister(requests, duration, syncAttempts, backlogOps, backlogPending)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		syncAttempts:    syncAttempts,
		backlogOps:      backlogOps,
		backlogPending:  backlogPending,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordSyncAttempt counts one provider push by operation and outcome.
func (m *Metrics) RecordSyncAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.syncAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordBacklogTransition counts a backlog state transition.
func (m *Metrics) RecordBacklogTransition(status string) {
	if m == nil {
		return
	}
	m.backlogOps.WithLabelValues(status).Inc()
}

// SetBacklogPending publishes the current pending depth.
func (m *Metrics) SetBacklogPending(n float64) {
	if m == nil {
		return
	}
	m.backlogPending.Set(n)
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
