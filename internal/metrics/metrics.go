// Package metrics exposes the advisory gauges and counters named in
// spec §9. The teacher's go.mod carries prometheus/client_golang
// rather than a statsd client, so these are implemented as Prometheus
// collectors; the config package still accepts STATSD_ADDR for
// compatibility with deployments that scrape it via a statsd-exporter
// sidecar, but the core never dials a statsd socket directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/waterwheel/waterwheel/internal/waterwheel"
)

// Registry bundles every metric the core components update. Absence
// of a scrape target never affects correctness — these are advisory
// only, per spec §9.
type Registry struct {
	TriggersQueued   prometheus.Gauge
	TokensProcessed  prometheus.Counter
	TasksDispatched  *prometheus.CounterVec
	CatchupActivated *prometheus.CounterVec
}

// NewRegistry constructs and registers the metrics in reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		TriggersQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "waterwheel",
			Name:      "triggers_queued",
			Help:      "Number of TriggerTime entries currently in the scheduler's heap.",
		}),
		TokensProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "waterwheel",
			Name:      "tokens_processed_total",
			Help:      "Number of ProcessToken messages handled by the token processor.",
		}),
		TasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waterwheel",
			Name:      "tasks_dispatched_total",
			Help:      "Number of TaskRequests published, labeled by priority.",
		}, []string{"priority"}),
		CatchupActivated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waterwheel",
			Name:      "catchup_activated_total",
			Help:      "Number of backfilled activations emitted during catchup, labeled by trigger_id.",
		}, []string{"trigger_id"}),
	}
	reg.MustRegister(m.TriggersQueued, m.TokensProcessed, m.TasksDispatched, m.CatchupActivated)
	return m
}

// ObserveDispatch increments the per-priority dispatch counter.
func (m *Registry) ObserveDispatch(priority waterwheel.TaskPriority) {
	m.TasksDispatched.WithLabelValues(string(priority)).Inc()
}
