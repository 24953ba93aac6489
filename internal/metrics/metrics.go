package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all monitoring loop metrics
type Metrics struct {
	// Scheduler counters
	Ticks        atomic.Uint64
	TicksSkipped atomic.Uint64

	// Capture counters
	FramesCaptured    atomic.Uint64
	FramesUnavailable atomic.Uint64
	CaptureErrors     atomic.Uint64

	// Submission counters
	FramesSubmitted atomic.Uint64
	SubmitErrors    atomic.Uint64
	AuthFailures    atomic.Uint64

	// Result counters
	ResultsApplied   atomic.Uint64
	ResultsDropped   atomic.Uint64
	SuspiciousEvents atomic.Uint64
	EvidenceFrames   atomic.Uint64

	// Latency tracking
	SubmitLatencyMs atomic.Uint64 // Latest submit round trip in ms

	// Session state
	SessionActive   atomic.Uint64 // 0 = idle, 1 = monitoring
	SessionsStarted atomic.Uint64
	SessionsEnded   atomic.Uint64

	// Status stream clients
	StreamClients atomic.Int64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Scheduler metrics
	m.counter("proctor_ticks_total", "Capture ticks that started a step", &m.Ticks)
	m.counter("proctor_ticks_skipped_total", "Capture ticks skipped while a step was in flight", &m.TicksSkipped)

	// Capture metrics
	m.counter("proctor_frames_captured_total", "Frames grabbed from the capture device", &m.FramesCaptured)
	m.counter("proctor_frames_unavailable_total", "Ticks where the camera had no frame", &m.FramesUnavailable)
	m.counter("proctor_capture_errors_total", "Capture device errors", &m.CaptureErrors)

	// Submission metrics
	m.counter("proctor_frames_submitted_total", "Frames submitted for analysis", &m.FramesSubmitted)
	m.counter("proctor_submit_errors_total", "Failed frame submissions", &m.SubmitErrors)
	m.counter("proctor_auth_failures_total", "Requests rejected as unauthorized", &m.AuthFailures)

	// Result metrics
	m.counter("proctor_results_applied_total", "Analysis results applied to the session", &m.ResultsApplied)
	m.counter("proctor_results_dropped_total", "Analysis results discarded as late or stale", &m.ResultsDropped)
	m.counter("proctor_suspicious_events_total", "Results flagged as suspicious activity", &m.SuspiciousEvents)
	m.counter("proctor_evidence_frames_total", "Suspicious frames queued for the evidence recorder", &m.EvidenceFrames)

	// Session metrics
	m.counter("proctor_sessions_started_total", "Test sessions started", &m.SessionsStarted)
	m.counter("proctor_sessions_ended_total", "Test sessions ended", &m.SessionsEnded)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "proctor_submit_latency_ms",
			Help: "Latest frame submission latency in milliseconds",
		},
		func() float64 { return float64(m.SubmitLatencyMs.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "proctor_session_active",
			Help: "Session monitoring active (0=idle, 1=active)",
		},
		func() float64 { return float64(m.SessionActive.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "proctor_status_stream_clients",
			Help: "Connected status stream clients",
		},
		func() float64 { return float64(m.StreamClients.Load()) },
	))
}

// UpdateSubmitLatency records the latest submit round trip
func (m *Metrics) UpdateSubmitLatency(d time.Duration) {
	m.SubmitLatencyMs.Store(uint64(d.Milliseconds()))
}

// SetSessionActive flips the session gauge
func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.SessionActive.Store(1)
		return
	}
	m.SessionActive.Store(0)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
