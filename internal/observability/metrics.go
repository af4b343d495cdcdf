package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so several instances (tests, CLI) never collide.
// Every method is safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	backendAttempts *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	backendTokens   *prometheus.CounterVec

	slides         *prometheus.CounterVec
	slideLatency   *prometheus.HistogramVec
	fallbackSlides *prometheus.CounterVec

	sessions           prometheus.Gauge
	sessionTransitions *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lessons_api_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lessons_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lessons_api_inflight_requests",
			Help: "HTTP requests currently being served",
		}),
		backendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lessons_backend_attempts_total",
			Help: "Generation backend attempts by outcome",
		}, []string{"backend", "model", "status"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lessons_backend_attempt_duration_seconds",
			Help:    "Generation backend attempt latency",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"backend", "status"}),
		backendTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lessons_backend_tokens_total",
			Help: "Tokens reported by generation backends",
		}, []string{"backend", "model", "direction"}),
		slides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lessons_slides_total",
			Help: "Slides produced by kind and source (generated, cache, fallback)",
		}, []string{"kind", "source"}),
		slideLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lessons_slide_duration_seconds",
			Help:    "End-to-end slide latency by source",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"source"}),
		fallbackSlides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lessons_fallback_slides_total",
			Help: "Deterministic fallback slides substituted for malformed backend output",
		}, []string{"kind", "reason"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lessons_sessions_active",
			Help: "Progressive sessions currently registered",
		}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lessons_session_transitions_total",
			Help: "Progressive coordinator state transitions",
		}, []string{"from", "to"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.backendAttempts, m.backendLatency, m.backendTokens,
		m.slides, m.slideLatency, m.fallbackSlides,
		m.sessions, m.sessionTransitions,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	code := strconv.Itoa(status)
	m.apiRequests.WithLabelValues(method, route, code).Inc()
	m.apiLatency.WithLabelValues(method, route, code).Observe(dur.Seconds())
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

// ObserveBackendAttempt records one orchestrator attempt against a backend.
func (m *Metrics) ObserveBackendAttempt(backend, model, status string, dur time.Duration, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	backend = orUnknown(backend)
	model = orUnknown(model)
	status = orUnknown(status)
	m.backendAttempts.WithLabelValues(backend, model, status).Inc()
	if dur > 0 {
		m.backendLatency.WithLabelValues(backend, status).Observe(dur.Seconds())
	}
	if inputTokens > 0 {
		m.backendTokens.WithLabelValues(backend, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.backendTokens.WithLabelValues(backend, model, "output").Add(float64(outputTokens))
	}
}

func (m *Metrics) ObserveSlide(kind, source string, dur time.Duration) {
	if m == nil {
		return
	}
	m.slides.WithLabelValues(orUnknown(kind), orUnknown(source)).Inc()
	m.slideLatency.WithLabelValues(orUnknown(source)).Observe(dur.Seconds())
}

func (m *Metrics) IncFallbackSlide(kind, reason string) {
	if m == nil {
		return
	}
	m.fallbackSlides.WithLabelValues(orUnknown(kind), orUnknown(reason)).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) IncSessionTransition(from, to string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(orUnknown(from), orUnknown(to)).Inc()
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}
