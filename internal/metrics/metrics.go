package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the casting server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	eventsTotal       *prometheus.CounterVec
	transcodeFailures prometheus.Counter
	purgedFilesTotal  prometheus.Counter
	activeSessions    prometheus.Gauge
	activeTranscodes  prometheus.Gauge
	activeConnections prometheus.Gauge
}

// New creates and registers Prometheus metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castroom_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castroom_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "castroom_events_total",
		Help: "Protocol events handled, by tag and outcome",
	}, []string{"event", "outcome"})
	transcodeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castroom_transcode_failures_total",
		Help: "Transcode processes that exited with an error",
	})
	purgedFilesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "castroom_hls_purged_files_total",
		Help: "HLS files removed by retention purges",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "castroom_active_sessions",
		Help: "Rooms with a caster",
	})
	activeTranscodes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "castroom_active_transcodes",
		Help: "Rooms with a transcode job attached",
	})
	activeConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "castroom_ws_connections",
		Help: "Open WebSocket connections on this instance",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		eventsTotal,
		transcodeFailures,
		purgedFilesTotal,
		activeSessions,
		activeTranscodes,
		activeConnections,
	)

	return &Metrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		errorsTotal:       errorsTotal,
		eventsTotal:       eventsTotal,
		transcodeFailures: transcodeFailures,
		purgedFilesTotal:  purgedFilesTotal,
		activeSessions:    activeSessions,
		activeTranscodes:  activeTranscodes,
		activeConnections: activeConnections,
	}
}

// Outcomes recorded with ObserveEvent.
const (
	OutcomeOK      = "ok"
	OutcomeDropped = "dropped"
	OutcomeError   = "error"
)

// ObserveEvent counts one handled protocol event.
func (m *Metrics) ObserveEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event, outcome).Inc()
}

// ObserveRequest counts one HTTP request and, for status >= 400, one error.
func (m *Metrics) ObserveRequest(status int) {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
	if status >= 400 {
		m.errorsTotal.Inc()
	}
}

// IncTranscodeFailures increments the transcode failure counter.
func (m *Metrics) IncTranscodeFailures() {
	if m == nil {
		return
	}
	m.transcodeFailures.Inc()
}

// AddPurgedFiles adds n to the purged files counter.
func (m *Metrics) AddPurgedFiles(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.purgedFilesTotal.Add(float64(n))
}

// SetActiveSessions sets the sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// SetActiveTranscodes sets the transcodes gauge.
func (m *Metrics) SetActiveTranscodes(n int) {
	if m == nil {
		return
	}
	m.activeTranscodes.Set(float64(n))
}

// SetConnections sets the open connections gauge.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}
