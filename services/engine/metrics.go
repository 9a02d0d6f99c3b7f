package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. All methods are safe on
// a nil receiver so the engine runs unchanged without a registry.
type Metrics struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	nodesTotal   *prometheus.CounterVec
	nodeSeconds  *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_runs_started_total",
			Help: "Workflow runs that claimed the run slot.",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_runs_finished_total",
			Help: "Workflow runs by terminal status.",
		}, []string{"status"}),
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_nodes_executed_total",
			Help: "Nodes executed by node type.",
		}, []string{"type"}),
		nodeSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_node_duration_seconds",
			Help:    "Node execution duration by node type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
}

func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveNode(nodeType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.nodesTotal.WithLabelValues(nodeType).Inc()
	m.nodeSeconds.WithLabelValues(nodeType).Observe(elapsed.Seconds())
}
