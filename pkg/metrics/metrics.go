// Package metrics exposes Prometheus collectors for the orchestration runtime.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector used across the engine, dispatcher, and
// gateway. Binaries that do not touch a subsystem simply leave its
// collectors at zero.
type Metrics struct {
	executionsStarted   *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   prometheus.Histogram
	nodesExecuted       *prometheus.CounterVec

	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter

	triggerSyncs       *prometheus.CounterVec
	workflowsOutOfSync prometheus.Gauge
	webhookRequests    *prometheus.CounterVec

	gatewayConnections prometheus.Gauge
	roomSubscribers    *prometheus.GaugeVec
}

// New registers all collectors against the given registerer. Tests pass
// a fresh prometheus.NewRegistry so instances never collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		executionsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_executions_started_total",
				Help: "Total number of executions started",
			},
			[]string{"mode"},
		),
		executionsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_executions_completed_total",
				Help: "Total number of executions reaching a terminal status",
			},
			[]string{"status"},
		),
		executionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trellis_execution_duration_seconds",
				Help:    "Execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		nodesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_nodes_executed_total",
				Help: "Total number of node executions",
			},
			[]string{"node_type", "status"},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_events_published_total",
				Help: "Total number of execution events published",
			},
			[]string{"type"},
		),
		eventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trellis_events_dropped_total",
				Help: "Total number of execution events dropped on publish failure",
			},
		),
		triggerSyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_trigger_syncs_total",
				Help: "Total number of trigger runtime synchronizations",
			},
			[]string{"result"},
		),
		workflowsOutOfSync: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trellis_workflows_out_of_sync",
				Help: "Workflows whose runtime trigger bindings disagree with persisted intent",
			},
		),
		webhookRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trellis_webhook_requests_total",
				Help: "Total number of inbound webhook requests",
			},
			[]string{"status"},
		),
		gatewayConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trellis_gateway_connections",
				Help: "Currently authenticated realtime connections",
			},
		),
		roomSubscribers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trellis_gateway_room_subscribers",
				Help: "Current subscriptions by room type",
			},
			[]string{"room"},
		),
	}
}

// Default registers against the global Prometheus registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// Handler serves the registry's collectors for scraping. Every binary
// mounts this on its /metrics endpoint.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ExecutionStarted(mode string) {
	m.executionsStarted.WithLabelValues(mode).Inc()
}

func (m *Metrics) ExecutionCompleted(status string, duration time.Duration) {
	m.executionsCompleted.WithLabelValues(status).Inc()
	m.executionDuration.Observe(duration.Seconds())
}

func (m *Metrics) NodeExecuted(nodeType, status string) {
	m.nodesExecuted.WithLabelValues(nodeType, status).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

func (m *Metrics) TriggerSync(err error) {
	if err != nil {
		m.triggerSyncs.WithLabelValues("error").Inc()
		return
	}

	m.triggerSyncs.WithLabelValues("ok").Inc()
}

func (m *Metrics) SetWorkflowsOutOfSync(n int) {
	m.workflowsOutOfSync.Set(float64(n))
}

func (m *Metrics) WebhookRequest(status int) {
	m.webhookRequests.WithLabelValues(webhookStatusLabel(status)).Inc()
}

func (m *Metrics) GatewayConnected() { m.gatewayConnections.Inc() }

func (m *Metrics) GatewayDisconnected() { m.gatewayConnections.Dec() }

func (m *Metrics) RoomJoined(room string) { m.roomSubscribers.WithLabelValues(room).Inc() }

func (m *Metrics) RoomLeft(room string) { m.roomSubscribers.WithLabelValues(room).Dec() }

func webhookStatusLabel(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
