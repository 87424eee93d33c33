package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. All collectors register
// on a private registry so tests can construct throwaway instances without
// colliding on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	workflowsStarted   *prometheus.CounterVec
	workflowsCompleted *prometheus.CounterVec
	actionsProcessed   *prometheus.CounterVec
	stagesActivated    *prometheus.CounterVec
	lockTimeouts       prometheus.Counter
}

// New creates the collector set under the given namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		workflowsStarted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_started_total",
				Help:      "Total number of workflow instances started",
			},
			[]string{"target_type"},
		),
		workflowsCompleted: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_completed_total",
				Help:      "Total number of workflow instances reaching a terminal status",
			},
			[]string{"target_type", "outcome"},
		),
		actionsProcessed: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_processed_total",
				Help:      "Total number of accepted approval actions",
			},
			[]string{"kind"},
		),
		stagesActivated: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_activated_total",
				Help:      "Total number of stage instances activated",
			},
			[]string{"target_type"},
		),
		lockTimeouts: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_timeouts_total",
				Help:      "Total number of per-target lock acquisitions that timed out",
			},
		),
	}

	return m
}

// WorkflowStarted records one started workflow instance.
func (m *Metrics) WorkflowStarted(targetType string) {
	m.workflowsStarted.WithLabelValues(targetType).Inc()
}

// WorkflowCompleted records one instance reaching a terminal status.
func (m *Metrics) WorkflowCompleted(targetType, outcome string) {
	m.workflowsCompleted.WithLabelValues(targetType, outcome).Inc()
}

// ActionProcessed records one accepted approval action.
func (m *Metrics) ActionProcessed(kind string) {
	m.actionsProcessed.WithLabelValues(kind).Inc()
}

// StageActivated records one activated stage instance.
func (m *Metrics) StageActivated(targetType string) {
	m.stagesActivated.WithLabelValues(targetType).Inc()
}

// LockTimeout records one per-target lock acquisition timeout.
func (m *Metrics) LockTimeout() {
	m.lockTimeouts.Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
