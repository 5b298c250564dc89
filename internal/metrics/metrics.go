package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hospital-query/internal/domain"
)

// Metrics holds the Prometheus collectors for the query pipeline and the
// HTTP surfaces. It satisfies usecase.Observer.
type Metrics struct {
	queriesTotal        *prometheus.CounterVec
	tokensTotal         *prometheus.CounterVec
	moderationVerdicts  *prometheus.CounterVec
	backendCallDuration *prometheus.HistogramVec
	sessionsTotal       prometheus.Counter
	sessionsEvicted     prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		queriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hq_queries_total",
				Help: "Total number of queries handled by outcome",
			},
			[]string{"outcome"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hq_tokens_total",
				Help: "Total backend tokens spent by query outcome",
			},
			[]string{"outcome"},
		),

		moderationVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hq_moderation_verdicts_total",
				Help: "Total number of moderation verdicts (safe, unsafe, unavailable)",
			},
			[]string{"verdict"},
		),

		backendCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hq_backend_call_duration_seconds",
				Help:    "Backend chat completion latency in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stage", "status"},
		),

		sessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hq_sessions_total",
				Help: "Total number of sessions created",
			},
		),

		sessionsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hq_sessions_evicted_total",
				Help: "Total number of idle or over-capacity sessions dropped",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hq_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hq_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.queriesTotal,
		m.tokensTotal,
		m.moderationVerdicts,
		m.backendCallDuration,
		m.sessionsTotal,
		m.sessionsEvicted,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)

	return m
}

// ObserveBackendCall records one chat completion round trip.
func (m *Metrics) ObserveBackendCall(stage string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.backendCallDuration.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}

// ObserveModeration records a moderation verdict.
func (m *Metrics) ObserveModeration(v domain.ModerationVerdict) {
	verdict := "unsafe"
	switch {
	case v.Unavailable:
		verdict = "unavailable"
	case v.IsSafe:
		verdict = "safe"
	}
	m.moderationVerdicts.WithLabelValues(verdict).Inc()
}

// ObserveQuery records the outcome and cost of one pipeline invocation.
func (m *Metrics) ObserveQuery(r domain.QueryResult) {
	outcome := string(r.Outcome)
	m.queriesTotal.WithLabelValues(outcome).Inc()
	if r.TokensUsed > 0 {
		m.tokensTotal.WithLabelValues(outcome).Add(float64(r.TokensUsed))
	}
}

// RecordSessionCreated counts a new session.
func (m *Metrics) RecordSessionCreated() {
	m.sessionsTotal.Inc()
}

// RecordSessionEvicted counts a dropped session. Its signature matches
// session.Store.OnEvict.
func (m *Metrics) RecordSessionEvicted(string) {
	m.sessionsEvicted.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency for next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RecordHTTPRequest(r.Method, endpointName(r.URL.Path), strconv.Itoa(wrapped.statusCode), time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// endpointName keeps the label set bounded.
func endpointName(path string) string {
	switch path {
	case "/":
		return "index"
	case "/clear":
		return "clear_form"
	case "/api/query":
		return "query"
	case "/api/usage":
		return "usage"
	case "/api/clear":
		return "clear"
	case "/healthz":
		return "health"
	case "/metrics":
		return "metrics"
	default:
		return "unknown"
	}
}
