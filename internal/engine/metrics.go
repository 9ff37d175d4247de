package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. Each Core registers its
// own set, so several engines can live in one test binary.
type Metrics struct {
	activations    *prometheus.CounterVec
	completions    *prometheus.CounterVec
	nondeterminism *prometheus.CounterVec
	evictions      *prometheus.CounterVec
	activityTasks  *prometheus.CounterVec
	cachedRuns     *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics registers engine collectors in reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: task_queue, replaying (true, false)
		activations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wfharness",
			Subsystem: "engine",
			Name:      "activations_total",
			Help:      "Workflow activations handed to workers",
		}, []string{"task_queue", "replaying"}),
		// Labels: task_queue, outcome (success, failure, nondeterminism, evicted)
		completions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wfharness",
			Subsystem: "engine",
			Name:      "activation_completions_total",
			Help:      "Activation completions accepted from workers",
		}, []string{"task_queue", "outcome"}),
		nondeterminism: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wfharness",
			Subsystem: "engine",
			Name:      "nondeterminism_errors_total",
			Help:      "Replayed activations whose commands did not match history",
		}, []string{"task_queue"}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wfharness",
			Subsystem: "engine",
			Name:      "cache_evictions_total",
			Help:      "Runs evicted from the workflow cache",
		}, []string{"task_queue"}),
		// Labels: task_queue, outcome (success, failure)
		activityTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wfharness",
			Subsystem: "engine",
			Name:      "activity_tasks_total",
			Help:      "Activity tasks completed by workers",
		}, []string{"task_queue", "outcome"}),
		cachedRuns: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wfharness",
			Subsystem: "engine",
			Name:      "cached_runs",
			Help:      "Runs currently held in the workflow cache",
		}, []string{"task_queue"}),
		registry: reg,
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordActivation(taskQueue string, replaying bool) {
	m.activations.WithLabelValues(taskQueue, strconv.FormatBool(replaying)).Inc()
}

func (m *Metrics) recordCompletion(taskQueue, outcome string) {
	m.completions.WithLabelValues(taskQueue, outcome).Inc()
	if outcome == outcomeNondeterminism {
		m.nondeterminism.WithLabelValues(taskQueue).Inc()
	}
}

func (m *Metrics) recordEviction(taskQueue string) {
	m.evictions.WithLabelValues(taskQueue).Inc()
}

func (m *Metrics) recordActivityTask(taskQueue string, failed bool) {
	outcome := outcomeSuccess
	if failed {
		outcome = outcomeFailure
	}
	m.activityTasks.WithLabelValues(taskQueue, outcome).Inc()
}

func (m *Metrics) setCachedRuns(taskQueue string, n int) {
	m.cachedRuns.WithLabelValues(taskQueue).Set(float64(n))
}

const (
	outcomeSuccess        = "success"
	outcomeFailure        = "failure"
	outcomeNondeterminism = "nondeterminism"
	outcomeEvicted        = "evicted"
)
