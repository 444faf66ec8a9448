package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the bridge.
//
// Every Record/Set method is safe to call on a nil *Metrics so components can
// run without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// RPC metrics
	RPCCalls    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
	RPCPending  prometheus.Gauge
	RPCDropped  *prometheus.CounterVec

	// Receiver metrics
	Mutations *prometheus.CounterVec

	// Session metrics
	SessionsActive     prometheus.Gauge
	SessionTransitions *prometheus.CounterVec

	// Renderer metrics
	Renders   prometheus.Counter
	Fallbacks *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
}

// NewMetrics registers collectors on reg. Pass prometheus.DefaultRegisterer in
// production and prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remoteui_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remoteui_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		RPCCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remoteui_rpc_calls_total",
				Help: "Total number of RPC calls by direction and outcome",
			},
			[]string{"direction", "method", "status"},
		),
		RPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "remoteui_rpc_call_duration_seconds",
				Help:    "Outbound RPC call duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"method"},
		),
		RPCPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "remoteui_rpc_pending_calls",
				Help: "Outbound RPC calls awaiting a response",
			},
		),
		RPCDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remoteui_rpc_dropped_messages_total",
				Help: "Inbound messages dropped by the endpoint",
			},
			[]string{"reason"},
		),

		Mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remoteui_mutations_total",
				Help: "Tree mutations applied or rejected",
			},
			[]string{"op", "status"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "remoteui_sessions_active",
				Help: "Sandbox sessions not yet terminated",
			},
		),
		SessionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remoteui_session_transitions_total",
				Help: "Sandbox session state transitions",
			},
			[]string{"state"},
		),

		Renders: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "remoteui_renders_total",
				Help: "Reconciliation passes performed by renderers",
			},
		),
		Fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remoteui_render_fallbacks_total",
				Help: "Nodes rendered as fallback placeholders",
			},
			[]string{"reason"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "remoteui_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "remoteui_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRPCCall records the outcome of an RPC call. direction is "out" for
// calls this side issued and "in" for calls it served.
func (m *Metrics) RecordRPCCall(direction, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RPCCalls.WithLabelValues(direction, method, status).Inc()
	if direction == "out" {
		m.RPCDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
}

// AddRPCPending adjusts the pending call gauge
func (m *Metrics) AddRPCPending(delta int) {
	if m == nil {
		return
	}
	m.RPCPending.Add(float64(delta))
}

// RecordRPCDropped records a dropped inbound message
func (m *Metrics) RecordRPCDropped(reason string) {
	if m == nil {
		return
	}
	m.RPCDropped.WithLabelValues(reason).Inc()
}

// RecordMutation records a mutation outcome
func (m *Metrics) RecordMutation(op, status string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(op, status).Inc()
}

// RecordTransition records a session entering state
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(state).Inc()
}

// IncSessionsActive increments active sessions
func (m *Metrics) IncSessionsActive() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// DecSessionsActive decrements active sessions
func (m *Metrics) DecSessionsActive() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordRender records one reconciliation pass
func (m *Metrics) RecordRender() {
	if m == nil {
		return
	}
	m.Renders.Inc()
}

// RecordFallback records a node rendered as a placeholder
func (m *Metrics) RecordFallback(reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(reason).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
