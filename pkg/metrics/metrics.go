package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the evaluation harness.
//
// Metrics:
//   - harness_conversations_total{outcome}
//   - harness_protocol_violations_total{code}
//   - harness_telemetry_parse_errors_total
//   - harness_tool_calls_total{tool,outcome}
//   - harness_agent_step_duration_seconds{actor}
//   - harness_order_cancellations_total{outcome}
type Metrics struct {
	registry *prometheus.Registry

	ConversationsTotal   *prometheus.CounterVec
	ProtocolViolations   *prometheus.CounterVec
	TelemetryParseErrors prometheus.Counter
	ToolCallsTotal       *prometheus.CounterVec
	StepDuration         *prometheus.HistogramVec
	OrderCancellations   *prometheus.CounterVec
}

// New registers all collectors on a private registry so that several
// harness instances can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ConversationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_conversations_total",
				Help: "Conversations finished, by termination outcome",
			},
			[]string{"outcome"},
		),
		ProtocolViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_protocol_violations_total",
				Help: "Agent turn protocol violations, by code",
			},
			[]string{"code"},
		),
		TelemetryParseErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "harness_telemetry_parse_errors_total",
				Help: "Telemetry payloads that could not be parsed",
			},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_tool_calls_total",
				Help: "Tool invocations, by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harness_agent_step_duration_seconds",
				Help:    "Latency of one agent or customer step",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"actor"},
		),
		OrderCancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harness_order_cancellations_total",
				Help: "Cancellation attempts seen by the order store, by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.ConversationsTotal,
		m.ProtocolViolations,
		m.TelemetryParseErrors,
		m.ToolCallsTotal,
		m.StepDuration,
		m.OrderCancellations,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
