// Package perf aggregates operation timings: count, total, min, max and
// average duration per operation name.
//
// A Monitor is an ordinary value. Build one at process start and pass it
// to whatever needs measuring.
package perf

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/IvanBrykalov/cachekit/internal/logger"
)

// Metric is the aggregate for one operation.
type Metric struct {
	Operation string
	Count     int64
	Total     time.Duration
	Min       time.Duration
	Max       time.Duration
	Avg       time.Duration
}

// Sink receives every recorded duration, e.g. to export a histogram.
type Sink interface {
	Observe(op string, d time.Duration)
}

// Clock is the time source used by timers.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Option configures a Monitor.
type Option func(*Monitor)

// WithSink forwards every recorded duration to s.
func WithSink(s Sink) Option {
	return func(m *Monitor) { m.sink = s }
}

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// Monitor is safe for concurrent use.
type Monitor struct {
	log   *slog.Logger
	sink  Sink
	clock Clock

	mu      sync.Mutex
	timers  map[string]time.Time
	metrics map[string]*Metric
}

// New returns an empty Monitor. A nil logger discards output.
func New(log *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		log:     logger.OrDiscard(log).With(logger.Component("perf")),
		clock:   wallClock{},
		timers:  make(map[string]time.Time),
		metrics: make(map[string]*Metric),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// StartTimer starts (or restarts) the stopwatch for op.
func (m *Monitor) StartTimer(op string) {
	now := m.clock.Now()
	m.mu.Lock()
	m.timers[op] = now
	m.mu.Unlock()
}

// EndTimer stops the stopwatch for op, records the elapsed time and
// returns it. Without a matching StartTimer it logs a warning and
// returns 0.
func (m *Monitor) EndTimer(op string) time.Duration {
	now := m.clock.Now()
	m.mu.Lock()
	start, ok := m.timers[op]
	delete(m.timers, op)
	m.mu.Unlock()

	if !ok {
		m.log.Warn("no timer started for operation", logger.Operation(op))
		return 0
	}
	d := now.Sub(start)
	m.RecordMetric(op, d)
	return d
}

// RecordMetric folds d into the aggregate for op.
func (m *Monitor) RecordMetric(op string, d time.Duration) {
	m.mu.Lock()
	mt, ok := m.metrics[op]
	if !ok {
		mt = &Metric{Operation: op, Min: d, Max: d}
		m.metrics[op] = mt
	}
	mt.Count++
	mt.Total += d
	mt.Min = min(mt.Min, d)
	mt.Max = max(mt.Max, d)
	mt.Avg = mt.Total / time.Duration(mt.Count)
	m.mu.Unlock()

	if m.sink != nil {
		m.sink.Observe(op, d)
	}
}

// Metric returns a copy of the aggregate for op.
func (m *Monitor) Metric(op string) (Metric, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.metrics[op]
	if !ok {
		return Metric{}, false
	}
	return *mt, true
}

// Metrics returns copies of all aggregates sorted by operation name.
func (m *Monitor) Metrics() []Metric {
	m.mu.Lock()
	out := make([]Metric, 0, len(m.metrics))
	for _, mt := range m.metrics {
		out = append(out, *mt)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Metric) int { return strings.Compare(a.Operation, b.Operation) })
	return out
}

// ClearMetrics drops every aggregate and running timer.
func (m *Monitor) ClearMetrics() {
	m.mu.Lock()
	clear(m.metrics)
	clear(m.timers)
	m.mu.Unlock()
}

// LogSummary writes one info record per operation.
func (m *Monitor) LogSummary() {
	all := m.Metrics()
	if len(all) == 0 {
		m.log.Info("no performance metrics recorded")
		return
	}
	m.log.Info("performance summary", logger.Count(len(all)))
	for _, mt := range all {
		m.log.Info("operation",
			logger.Operation(mt.Operation),
			slog.Int64("calls", mt.Count),
			slog.Duration("total", mt.Total),
			slog.Duration("min", mt.Min),
			slog.Duration("max", mt.Max),
			slog.Duration("avg", mt.Avg))
	}
}

// Measure times fn under op. The metric is recorded even when fn fails or
// panics; the error or panic reaches the caller unchanged.
func (m *Monitor) Measure(op string, fn func() error) error {
	defer m.track(op)()
	return fn()
}

// MeasureContext is Measure for context-aware functions.
func (m *Monitor) MeasureContext(ctx context.Context, op string, fn func(context.Context) error) error {
	defer m.track(op)()
	return fn(ctx)
}

// MeasureValue times fn under op and returns its result.
func MeasureValue[T any](m *Monitor, op string, fn func() (T, error)) (T, error) {
	defer m.track(op)()
	return fn()
}

// track starts a measurement and returns the func that records it.
func (m *Monitor) track(op string) func() {
	start := m.clock.Now()
	return func() { m.RecordMetric(op, m.clock.Now().Sub(start)) }
}

func (mt Metric) String() string {
	return fmt.Sprintf("%s: count=%d avg=%s min=%s max=%s", mt.Operation, mt.Count, mt.Avg, mt.Min, mt.Max)
}
