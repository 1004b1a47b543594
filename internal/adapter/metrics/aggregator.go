package metrics

import "github.com/prometheus/client_golang/prometheus"

// AggregatorMetrics holds Prometheus metrics for the command aggregator.
type AggregatorMetrics struct {
	Updates         *prometheus.CounterVec
	CommandsEmitted prometheus.Counter
	PublishFailures prometheus.Counter
}

// NewAggregatorMetrics creates and registers aggregator metrics on the given registry.
func NewAggregatorMetrics(reg prometheus.Registerer) *AggregatorMetrics {
	m := &AggregatorMetrics{
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "slot_updates_total",
			Help:      "Total number of slot updates, by slot.",
		}, []string{"slot"}),
		CommandsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "commands_emitted_total",
			Help:      "Total number of combined commands emitted.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "publish_failures_total",
			Help:      "Total number of combined commands that failed to publish.",
		}),
	}

	reg.MustRegister(m.Updates, m.CommandsEmitted, m.PublishFailures)
	return m
}
