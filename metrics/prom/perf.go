package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/cachekit/perf"
)

// PerfSink implements perf.Sink with one histogram labelled by operation.
type PerfSink struct {
	durations *prometheus.HistogramVec
}

// NewPerfSink registers the operation duration histogram on reg
// (nil => default registerer).
func NewPerfSink(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *PerfSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PerfSink{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "operation_duration_seconds",
			Help:        "Measured operation durations",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"operation"}),
	}
	reg.MustRegister(s.durations)
	return s
}

func (s *PerfSink) Observe(op string, d time.Duration) {
	s.durations.WithLabelValues(op).Observe(d.Seconds())
}

var _ perf.Sink = (*PerfSink)(nil)
