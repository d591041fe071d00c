package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "webmention"

// PromMetrics holds the Prometheus collectors of the engine
type PromMetrics struct {
	Received       *prometheus.CounterVec
	Sent           *prometheus.CounterVec
	Exhausted      prometheus.Counter
	SweepDuration  prometheus.Histogram
	SweepDocuments prometheus.Counter
}

// NewPromMetrics creates and registers the collectors on reg
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PromMetrics{
		Received: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "received_total",
				Help:      "Inbound webmentions by HTTP status",
			},
			[]string{"status"},
		),
		Sent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sent_total",
				Help:      "Outbound webmentions by outcome",
			},
			[]string{"outcome"},
		),
		Exhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_exhausted_total",
				Help:      "Documents that gave up delivery after the retry cap",
			},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of pending delivery sweeps",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		SweepDocuments: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sweep_documents_total",
				Help:      "Documents processed by pending delivery sweeps",
			},
		),
	}
}
