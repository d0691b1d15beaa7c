// Package observability owns the Prometheus registry and every collector the
// server exports.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method then does nothing.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	decisions     *prometheus.CounterVec
	auditDropped  prometheus.Counter
	auditFailures *prometheus.CounterVec
	pruned        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portunus_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_access_decisions_total",
			Help: "Access decisions by reason and outcome.",
		}, []string{"reason", "granted"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portunus_audit_dropped_total",
			Help: "Audit events discarded because the queue was full.",
		}),
		auditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_audit_write_failures_total",
			Help: "Audit sink write failures.",
		}, []string{"sink"}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portunus_retention_pruned_rows_total",
			Help: "Rows removed by the retention pruner.",
		}, []string{"table"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.decisions, m.auditDropped, m.auditFailures, m.pruned,
		prometheus.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&rec, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer lets other packages add collectors to the exported registry.
// On a nil Metrics it returns a detached registry so registration still
// succeeds and nothing is exported.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) ObserveDecision(reason string, granted bool) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(reason, strconv.FormatBool(granted)).Inc()
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

func (m *Metrics) AuditWriteFailed(sink string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) Pruned(table string, rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.pruned.WithLabelValues(table).Add(float64(rows))
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
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}
