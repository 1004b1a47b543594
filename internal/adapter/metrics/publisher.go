package metrics

import "github.com/prometheus/client_golang/prometheus"

// PublisherMetrics holds Prometheus metrics for the sample processing cycle.
type PublisherMetrics struct {
	SamplesTotal   *prometheus.CounterVec
	Events         *prometheus.CounterVec
	FreshnessState prometheus.Gauge
	CycleDuration  prometheus.Histogram
}

// NewPublisherMetrics creates and registers publisher metrics on the given registry.
func NewPublisherMetrics(reg prometheus.Registerer) *PublisherMetrics {
	m := &PublisherMetrics{
		SamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "samples_total",
			Help:      "Total number of input samples processed, by result.",
		}, []string{"result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "events_total",
			Help:      "Total number of diagnostic events, by kind.",
		}, []string{"kind"}),
		FreshnessState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "freshness_state",
			Help:      "Input freshness state (0=idle, 1=publishing, 2=timed out).",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publisher",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one processing cycle in seconds.",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}

	reg.MustRegister(m.SamplesTotal, m.Events, m.FreshnessState, m.CycleDuration)
	return m
}
