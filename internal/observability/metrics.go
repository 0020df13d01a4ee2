package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized interface for collecting the engine's Prometheus
// metrics: DAG task throughput, run-engine session duration, and the state
// manager's active-session gauge.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordDAGTask("build", "success", 1.2)
//	metrics.RecordSessionDuration(time.Since(start).Seconds())
type Metrics struct {
	// DAGTasksTotal counts DAG task executions by task id and outcome.
	// Labels: task_id, status (success|failed)
	DAGTasksTotal *prometheus.CounterVec

	// DAGTaskDuration measures per-task execution time in seconds.
	// Labels: task_id
	DAGTaskDuration *prometheus.HistogramVec

	// SessionDuration measures run-engine session lifetime in seconds.
	SessionDuration prometheus.Histogram

	// StatemgrSessions is a gauge of sessions currently tracked by the
	// state manager, by status (created|running|completed|failed|cancelled).
	StatemgrSessions *prometheus.GaugeVec

	// ToolEventsTotal counts canonical tool events observed by the
	// correlator, by tool name.
	ToolEventsTotal *prometheus.CounterVec

	// GatekeeperDecisions counts gatekeeper verdicts by outcome.
	GatekeeperDecisions *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at process startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers all Prometheus metrics with the given
// registerer, so tests and multi-instance callers can use an isolated
// registry instead of the global default.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DAGTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memex_dag_tasks_total",
				Help: "Total number of DAG task executions by task id and outcome",
			},
			[]string{"task_id", "status"},
		),

		DAGTaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "memex_dag_task_duration_seconds",
				Help:    "Duration of DAG task executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
			[]string{"task_id"},
		),

		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "memex_session_duration_seconds",
				Help:    "Duration of run-engine sessions in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
			},
		),

		StatemgrSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "memex_statemgr_sessions",
				Help: "Current number of sessions tracked by the state manager, by status",
			},
			[]string{"status"},
		),

		ToolEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memex_tool_events_total",
				Help: "Total number of canonical tool events observed, by tool name",
			},
			[]string{"tool"},
		),

		GatekeeperDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "memex_gatekeeper_decisions_total",
				Help: "Total number of gatekeeper decisions by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordDAGTask records a single DAG task's outcome and duration.
func (m *Metrics) RecordDAGTask(taskID, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.DAGTasksTotal.WithLabelValues(taskID, status).Inc()
	m.DAGTaskDuration.WithLabelValues(taskID).Observe(durationSeconds)
}

// RecordSessionDuration records a completed run-engine session's lifetime.
func (m *Metrics) RecordSessionDuration(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionDuration.Observe(durationSeconds)
}

// SetStatemgrSessions sets the current session count for a status.
func (m *Metrics) SetStatemgrSessions(status string, count int) {
	if m == nil {
		return
	}
	m.StatemgrSessions.WithLabelValues(status).Set(float64(count))
}

// RecordToolEvent increments the tool-event counter for a tool name.
func (m *Metrics) RecordToolEvent(tool string) {
	if m == nil {
		return
	}
	m.ToolEventsTotal.WithLabelValues(tool).Inc()
}

// RecordGatekeeperDecision increments the gatekeeper decision counter.
func (m *Metrics) RecordGatekeeperDecision(outcome string) {
	if m == nil {
		return
	}
	m.GatekeeperDecisions.WithLabelValues(outcome).Inc()
}
