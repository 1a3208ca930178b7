package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zoobzio/shimz"
)

var labels = []string{"product", "resource", "operation"}

// Sink exports statement timings as Prometheus metrics.
type Sink struct {
	duration  *prometheus.HistogramVec
	exclusive *prometheus.HistogramVec
	calls     *prometheus.CounterVec
}

// NewSink registers the statement metrics on reg under namespace.
func NewSink(namespace string, reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)
	return &Sink{
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "datastore_statement_duration_seconds",
				Help:      "Duration of traced datastore calls",
				Buckets:   prometheus.DefBuckets,
			},
			labels,
		),
		exclusive: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "datastore_statement_exclusive_seconds",
				Help:      "Exclusive duration of traced datastore calls",
				Buckets:   prometheus.DefBuckets,
			},
			labels,
		),
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datastore_statements_total",
				Help:      "Total number of traced datastore calls",
			},
			labels,
		),
	}
}

// Observe records one closed segment for st.
func (s *Sink) Observe(st Statement, m shimz.Measurement) {
	l := prometheus.Labels{
		"product":   st.Product,
		"resource":  st.Resource,
		"operation": st.Operation,
	}
	s.duration.With(l).Observe(m.Duration.Seconds())
	s.exclusive.With(l).Observe(m.Exclusive.Seconds())
	s.calls.With(l).Inc()
}
