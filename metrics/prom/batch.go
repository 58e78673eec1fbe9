package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/cachekit/batch"
)

// BatchAdapter implements batch.Metrics.
type BatchAdapter struct {
	sizes    prometheus.Histogram
	duration prometheus.Histogram
	failures prometheus.Counter
	queued   prometheus.Gauge
}

// NewBatch registers batch processor metrics on reg (nil => default registerer).
func NewBatch(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *BatchAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &BatchAdapter{
		sizes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "batch_size",
			Help:        "Items per processed batch",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 8),
			ConstLabels: constLabels,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "batch_duration_seconds",
			Help:        "Time spent in the process function",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "batch_failures_total",
			Help:        "Batches whose process function failed",
			ConstLabels: constLabels,
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "queue_length",
			Help:        "Items waiting for a batch",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.sizes, a.duration, a.failures, a.queued)
	return a
}

func (a *BatchAdapter) Batch(size int, took time.Duration, err error) {
	a.sizes.Observe(float64(size))
	a.duration.Observe(took.Seconds())
	if err != nil {
		a.failures.Inc()
	}
}

func (a *BatchAdapter) Queued(n int) { a.queued.Set(float64(n)) }

var _ batch.Metrics = (*BatchAdapter)(nil)
