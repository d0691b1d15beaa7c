package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/portunus-access/internal/observability"
)

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *observability.Metrics
	m.ObserveDecision("ok", true)
	m.AuditDropped()
	m.AuditWriteFailed("store")
	m.Pruned("access_events", 3)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetrics_MiddlewareAndExposition(t *testing.T) {
	m := observability.NewMetrics()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/things/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/42", nil))
	m.ObserveDecision("outside_schedule", false)
	m.ObserveDecision("outside_schedule", false)
	m.AuditDropped()

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `portunus_http_requests_total{code="418",route="/things/{id}"} 1`)
	assert.Contains(t, body, `portunus_access_decisions_total{granted="false",reason="outside_schedule"} 2`)
	assert.Contains(t, body, "portunus_audit_dropped_total 1")
}

func TestMetrics_RegistererExportsExtraCollectors(t *testing.T) {
	m := observability.NewMetrics()
	pending := 3
	m.Registerer().MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "portunus_audit_queue_pending",
		Help: "Audit events waiting to be written.",
	}, func() float64 { return float64(pending) }))

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "portunus_audit_queue_pending 3")

	var nilMetrics *observability.Metrics
	assert.NotPanics(t, func() {
		nilMetrics.Registerer().MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "portunus_detached_total"}))
	})
}
