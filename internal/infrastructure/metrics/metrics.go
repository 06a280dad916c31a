// Package metrics defines the Prometheus collectors of the API.
package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hybridauth"

// Gate outcomes.
const (
	OutcomeAllowed  = "allowed"
	OutcomeRejected = "rejected"
)

// GateMetrics counts gate decisions and tenant scope lifecycles. It
// implements postgres.ScopeObserver.
type GateMetrics struct {
	rejections    *prometheus.CounterVec
	requests      *prometheus.CounterVec
	activations   prometheus.Counter
	deactivations prometheus.Counter
	active        prometheus.Gauge

	activated   atomic.Int64
	deactivated atomic.Int64
}

// NewGateMetrics creates and registers the gate collectors.
func NewGateMetrics(reg prometheus.Registerer) *GateMetrics {
	m := &GateMetrics{
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_rejections_total",
			Help:      "Requests rejected by the hybrid auth gate, by reason.",
		}, []string{"reason"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_requests_total",
			Help:      "Requests processed by the hybrid auth gate, by outcome.",
		}, []string{"outcome"}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_scope_activations_total",
			Help:      "Tenant scopes opened.",
		}),
		deactivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_scope_deactivations_total",
			Help:      "Tenant scopes closed.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenant_scopes_active",
			Help:      "Tenant scopes currently open.",
		}),
	}
	reg.MustRegister(m.rejections, m.requests, m.activations, m.deactivations, m.active)
	return m
}

// Allowed records a request that passed the gate.
func (m *GateMetrics) Allowed() {
	m.requests.WithLabelValues(OutcomeAllowed).Inc()
}

// Rejected records a rejection with its reason.
func (m *GateMetrics) Rejected(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
	m.requests.WithLabelValues(OutcomeRejected).Inc()
}

func (m *GateMetrics) ScopeActivated(string) {
	m.activated.Add(1)
	m.activations.Inc()
	m.active.Inc()
}

func (m *GateMetrics) ScopeDeactivated(string) {
	m.deactivated.Add(1)
	m.deactivations.Inc()
	m.active.Dec()
}

// Activations returns the number of scopes opened so far.
func (m *GateMetrics) Activations() int64 { return m.activated.Load() }

// Deactivations returns the number of scopes closed so far.
func (m *GateMetrics) Deactivations() int64 { return m.deactivated.Load() }

// HTTPMetrics measures requests per route.
type HTTPMetrics struct {
	inFlight prometheus.Gauge
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers the HTTP collectors.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.inFlight, m.total, m.duration)
	return m
}

// Start marks a request in flight and returns the function that records it.
func (m *HTTPMetrics) Start() func(method, route string, status int) {
	m.inFlight.Inc()
	start := time.Now()
	return func(method, route string, status int) {
		code := strconv.Itoa(status)
		m.duration.WithLabelValues(method, route, code).Observe(time.Since(start).Seconds())
		m.total.WithLabelValues(method, route, code).Inc()
		m.inFlight.Dec()
	}
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
