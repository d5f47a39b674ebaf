// Package metrics exposes Prometheus instrumentation for the agent runtime.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus collectors. Collectors register at
// construction, so create one Metrics per process. A nil *Metrics records
// nothing; instrumented code calls the record methods unconditionally.
type Metrics struct {
	// TurnCounter counts finished turns.
	// Labels: provider, model, status (success or the turn-fatal error code)
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures wall time per turn in seconds, tool rounds
	// included.
	// Labels: provider, model
	TurnDuration *prometheus.HistogramVec

	// TurnRounds measures model round-trips spent per turn.
	// Labels: provider
	TurnRounds *prometheus.HistogramVec

	// ActiveTurns gauges turns currently in flight.
	// Labels: provider
	ActiveTurns *prometheus.GaugeVec

	// ProviderRequestCounter counts streaming completion requests.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderRequestDuration measures one streaming completion in seconds,
	// request open to stream end.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations that reached execution.
	// Labels: tool, status (ok|error|cancelled)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// PolicyDecisionCounter counts gate verdicts, operator answers included.
	// Labels: decision (allow|confirm|deny), reason
	PolicyDecisionCounter *prometheus.CounterVec
}

// NewMetrics registers the collectors on the default Prometheus registry and
// returns the handle instrumented code records through.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors on reg. Tests pass an isolated
// registry so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_turns_total",
				Help: "Total number of turns by provider, model, and outcome",
			},
			[]string{"provider", "model", "status"},
		),

		TurnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workbench_turn_duration_seconds",
				Help:    "Duration of turns in seconds, tool rounds included",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider", "model"},
		),

		TurnRounds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workbench_turn_rounds",
				Help:    "Model round-trips per turn",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 20},
			},
			[]string{"provider"},
		),

		ActiveTurns: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "workbench_active_turns",
				Help: "Current number of turns in flight",
			},
			[]string{"provider"},
		),

		ProviderRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_llm_requests_total",
				Help: "Total number of streaming completion requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workbench_llm_request_duration_seconds",
				Help:    "Duration of streaming completion requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workbench_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		PolicyDecisionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workbench_policy_decisions_total",
				Help: "Total number of policy gate decisions by verdict and reason",
			},
			[]string{"decision", "reason"},
		),
	}
}

// TurnStarted marks a turn in flight.
func (m *Metrics) TurnStarted(provider string) {
	if m == nil {
		return
	}
	m.ActiveTurns.WithLabelValues(provider).Inc()
}

// TurnEnded records a finished turn. Status is "success" when the turn
// reached quiescence, otherwise the turn-fatal error code.
func (m *Metrics) TurnEnded(provider, model, status string, rounds int, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveTurns.WithLabelValues(provider).Dec()
	m.TurnCounter.WithLabelValues(provider, model, status).Inc()
	m.TurnDuration.WithLabelValues(provider, model).Observe(seconds)
	if rounds > 0 {
		m.TurnRounds.WithLabelValues(provider).Observe(float64(rounds))
	}
}

// RecordProviderRequest records one streaming completion request.
func (m *Metrics) RecordProviderRequest(provider, model, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(seconds)
}

// RecordToolExecution records one tool execution that made it past the
// policy gate.
func (m *Metrics) RecordToolExecution(tool, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(seconds)
}

// RecordPolicyDecision records one gate verdict or operator answer.
func (m *Metrics) RecordPolicyDecision(decision, reason string) {
	if m == nil {
		return
	}
	m.PolicyDecisionCounter.WithLabelValues(decision, reason).Inc()
}
