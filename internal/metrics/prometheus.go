package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors of the live coaching service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsFailed  *prometheus.CounterVec
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Interaction metrics
	Interactions       *prometheus.CounterVec
	UpstreamLatency    prometheus.Histogram
	ThrottledResponses prometheus.Counter

	// Gateway metrics
	ActiveConnections prometheus.Gauge
	Envelopes         *prometheus.CounterVec

	// Rate gate metrics
	RateLimited *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "live_active_sessions",
			Help: "Current number of registered upstream sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_sessions_started_total",
			Help: "Total number of upstream sessions created",
		}),
		SessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_sessions_failed_total",
			Help: "Total number of failed session starts",
		}, []string{"stage"}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_sessions_closed_total",
			Help: "Total number of upstream sessions closed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_session_duration_seconds",
			Help:    "Lifetime of upstream sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		}),

		Interactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_interactions_total",
			Help: "Total number of audio interactions by outcome",
		}, []string{"outcome"}),
		UpstreamLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "live_upstream_latency_seconds",
			Help:    "Time from forwarding audio to a complete upstream response",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		ThrottledResponses: factory.NewCounter(prometheus.CounterOpts{
			Name: "live_throttled_responses_total",
			Help: "Total number of interactions short-circuited by the session cooldown",
		}),

		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "live_active_connections",
			Help: "Current number of client WebSocket connections",
		}),
		Envelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "live_envelopes_total",
			Help: "Total number of client envelopes by direction and type",
		}, []string{"direction", "type"}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_gate_rejections_total",
			Help: "Total number of calls refused by the rate gate",
		}, []string{"scope"}),
	}
}

// RecordSessionStarted increments the started counter and the active gauge.
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionFailed counts a failed start at stage (context, handshake).
func (m *Metrics) RecordSessionFailed(stage string) {
	if m == nil {
		return
	}
	m.SessionsFailed.WithLabelValues(stage).Inc()
}

// RecordSessionClosed decrements the active gauge and records the lifetime.
func (m *Metrics) RecordSessionClosed(lifetime time.Duration) {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(lifetime.Seconds())
}

// RecordInteraction counts one interaction outcome.
func (m *Metrics) RecordInteraction(outcome string) {
	if m == nil {
		return
	}
	m.Interactions.WithLabelValues(outcome).Inc()
	if outcome == "throttled" {
		m.ThrottledResponses.Inc()
	}
}

// ObserveUpstreamLatency records one upstream round trip.
func (m *Metrics) ObserveUpstreamLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamLatency.Observe(d.Seconds())
}

// RecordConnectionOpened increments the active connection gauge.
func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// RecordConnectionClosed decrements the active connection gauge.
func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordEnvelope counts one envelope; direction is "in" or "out".
func (m *Metrics) RecordEnvelope(direction, envelopeType string) {
	if m == nil {
		return
	}
	m.Envelopes.WithLabelValues(direction, envelopeType).Inc()
}

// RecordRateLimited counts one refusal by the rate gate.
func (m *Metrics) RecordRateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(scope).Inc()
}
