// Package metrics tracks the runtime's Prometheus counters: turns, tool
// invocations, fanout drops, and scheduled task fires.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collector set. Create once at startup.
type Metrics struct {
	// TurnCounter counts conversational turns.
	// Labels: status (success|error|timeout)
	TurnCounter *prometheus.CounterVec

	// ToolInvocationCounter counts tool dispatches.
	// Labels: tool_name, outcome (success or a tool error code)
	ToolInvocationCounter *prometheus.CounterVec

	// FanoutDropCounter counts subscribers dropped for not keeping up.
	FanoutDropCounter prometheus.Counter

	// ScheduledFireCounter counts scheduled task executions.
	// Labels: status (success|error)
	ScheduledFireCounter *prometheus.CounterVec
}

// NewMetrics registers the collectors with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the collectors with reg. Tests pass a fresh
// registry so repeated construction does not panic on re-registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radbot_turns_total",
				Help: "Total number of conversational turns by status",
			},
			[]string{"status"},
		),
		ToolInvocationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radbot_tool_invocations_total",
				Help: "Total number of tool dispatches by tool name and outcome",
			},
			[]string{"tool_name", "outcome"},
		),
		FanoutDropCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "radbot_fanout_drops_total",
				Help: "Total number of event subscribers dropped for full buffers",
			},
		),
		ScheduledFireCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "radbot_scheduled_fires_total",
				Help: "Total number of scheduled task executions by status",
			},
			[]string{"status"},
		),
	}
}

// RecordTurn counts one finished turn.
func (m *Metrics) RecordTurn(status string) {
	m.TurnCounter.WithLabelValues(status).Inc()
}

// RecordToolInvocation counts one tool dispatch. An empty outcome means
// success.
func (m *Metrics) RecordToolInvocation(toolName, outcome string) {
	if outcome == "" {
		outcome = "success"
	}
	m.ToolInvocationCounter.WithLabelValues(toolName, outcome).Inc()
}

// RecordFanoutDrop counts one dropped subscriber.
func (m *Metrics) RecordFanoutDrop() {
	m.FanoutDropCounter.Inc()
}

// RecordScheduledFire counts one scheduled task run.
func (m *Metrics) RecordScheduledFire(failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	m.ScheduledFireCounter.WithLabelValues(status).Inc()
}

// Handler serves the default registry at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
