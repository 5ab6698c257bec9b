package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
)

// Metrics mengumpulkan metrik Prometheus untuk edge runtime.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edge_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_logic_executions_total",
		Help: "Logic unit executions partitioned by kind and outcome.",
	}, []string{"kind", "outcome"})
	execDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edge_logic_execution_duration_seconds",
		Help:    "Duration of logic unit executions per kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_response_cache_lookups_total",
		Help: "Response cache lookups partitioned by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, executions, execDuration, lookups)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		executionsTotal:   executions,
		executionDuration: execDuration,
		cacheLookups:      lookups,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// ObserveExecution records one logic unit run. The outcome label is "ok" or the
// taxonomy name of err in lower case.
func (m *Metrics) ObserveExecution(kind string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.executionsTotal.WithLabelValues(kind, Outcome(err)).Inc()
	m.executionDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveCache records a response cache lookup result (hit or miss).
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Outcome labels err for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, httpx.ErrNotFound):
		return "not_found"
	case errors.Is(err, httpx.ErrForbidden):
		return "forbidden"
	case errors.Is(err, httpx.ErrValidation):
		return "validation"
	default:
		return "error"
	}
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
