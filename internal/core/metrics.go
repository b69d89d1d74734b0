package core

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Lazy load kinds reported by Metrics.
const (
	loadKindDataContainer = "data_container"
	loadKindCollection    = "collection"
	loadKindVirtualObject = "virtual_object"
)

// Metrics records engine activity in Prometheus collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	endPoints prometheus.Gauge
	lazyLoads *prometheus.CounterVec
	commands  *prometheus.CounterVec
	commits   prometheus.Counter
	rollbacks prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		endPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relcore_end_points_registered",
			Help: "Number of relation end-points currently registered across transactions",
		}),
		lazyLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relcore_lazy_loads_total",
			Help: "Number of lazy loads issued to the loader, by kind",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relcore_commands_performed_total",
			Help: "Number of relation commands performed, by kind",
		}, []string{"kind"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relcore_transaction_commits_total",
			Help: "Number of committed transactions",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relcore_transaction_rollbacks_total",
			Help: "Number of rolled back transactions",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.endPoints, m.lazyLoads, m.commands, m.commits, m.rollbacks} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) endPointAdded() {
	if m != nil {
		m.endPoints.Inc()
	}
}

func (m *Metrics) endPointRemoved() {
	if m != nil {
		m.endPoints.Dec()
	}
}

func (m *Metrics) lazyLoad(kind string) {
	if m != nil {
		m.lazyLoads.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) commandPerformed(kind string) {
	if m != nil {
		m.commands.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) committed() {
	if m != nil {
		m.commits.Inc()
	}
}

func (m *Metrics) rolledBack() {
	if m != nil {
		m.rollbacks.Inc()
	}
}
